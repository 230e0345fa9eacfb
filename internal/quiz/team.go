package quiz

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinStake and FloorMaxStake bound bonus wagers: a team may always stake up
// to FloorMaxStake, or its whole score when that is higher.
const (
	MinStake      = 100
	FloorMaxStake = 500
)

// MaxStake returns the largest stake allowed for a team with score.
func MaxStake(score int) int {
	return max(score, FloorMaxStake)
}

// CheckStake validates stake against [MinStake, MaxStake(score)].
func CheckStake(score, stake int) error {
	if stake < MinStake || stake > MaxStake(score) {
		return ErrStakeOutOfRange
	}
	return nil
}

const (
	GameCodeLength  = 6
	MaxTeamNameLen  = 20
	MaxCustomSound  = 512 << 10
	gameCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var gameCodeRe = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NewGameCode returns a random 6-character uppercase alphanumeric code.
func NewGameCode() (string, error) {
	code := make([]byte, GameCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(gameCodeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = gameCodeCharset[n.Int64()]
	}
	return string(code), nil
}

// NormalizeGameCode trims and upper-cases a typed code and checks its shape.
func NormalizeGameCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !gameCodeRe.MatchString(code) {
		return "", ErrInvalidGameCode
	}
	return code, nil
}

// NormalizeTeamName trims a team name and checks its length.
func NormalizeTeamName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxTeamNameLen {
		return "", ErrInvalidTeamName
	}
	return name, nil
}

// SoundType is a team's buzzer sound.
type SoundType string

const (
	SoundBuzzer  SoundType = "buzzer"
	SoundBell    SoundType = "bell"
	SoundHorn    SoundType = "horn"
	SoundChime   SoundType = "chime"
	SoundAirhorn SoundType = "airhorn"
	SoundBoing   SoundType = "boing"
	SoundQuack   SoundType = "quack"
	SoundWoof    SoundType = "woof"
	SoundCustom  SoundType = "custom"
)

func (s SoundType) Valid() bool {
	switch s {
	case SoundBuzzer, SoundBell, SoundHorn, SoundChime,
		SoundAirhorn, SoundBoing, SoundQuack, SoundWoof, SoundCustom:
		return true
	}
	return false
}

// CheckSound validates a sound choice. A custom sound must carry a recorded
// clip as an audio data URL; presets must not.
func CheckSound(s SoundType, custom string) error {
	if !s.Valid() {
		return ErrInvalidSound
	}
	if s != SoundCustom {
		if custom != "" {
			return ErrInvalidCustomSound
		}
		return nil
	}
	if !strings.HasPrefix(custom, "data:audio/") || len(custom) > MaxCustomSound {
		return ErrInvalidCustomSound
	}
	return nil
}

// NewTeam returns the row a freshly joined team starts with.
func NewTeam(id, gameID, name string) Team {
	return Team{
		ID:        id,
		GameID:    gameID,
		Name:      name,
		Connected: true,
		SoundType: SoundBuzzer,
	}
}

// AllReady reports whether at least one team exists and every team is ready.
func AllReady(teams []Team) bool {
	if len(teams) == 0 {
		return false
	}
	for _, t := range teams {
		if !t.Ready {
			return false
		}
	}
	return true
}
