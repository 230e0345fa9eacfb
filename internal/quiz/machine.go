package quiz

// The methods below are the Game state machine. Each one either returns a
// violation and leaves g untouched, or applies the transition in place.
// Callers that need the previous value keep a Clone.

// Start moves Lobby to BoardVisible. Every team must be ready and at least
// one must exist.
func (g *Game) Start(teams []Team) error {
	if g.Started {
		return ErrAlreadyStarted
	}
	if len(teams) == 0 {
		return ErrNoTeams
	}
	for _, t := range teams {
		if !t.Ready {
			return ErrTeamsNotReady
		}
	}
	g.Started = true
	return nil
}

// CheckSelectable reports whether (c, q) may be opened right now.
func (g *Game) CheckSelectable(c, q int) (*Question, error) {
	if !g.Started {
		return nil, ErrNotStarted
	}
	if g.ActiveQuestion != nil {
		return nil, ErrQuestionActive
	}
	cell, err := g.Cell(c, q)
	if err != nil {
		return nil, err
	}
	if cell.Used {
		return nil, ErrQuestionUsed
	}
	return cell, nil
}

// Open makes (c, q) the active question with an unlocked buzzer. Bonus
// cells are refused; they go through OpenStaked.
func (g *Game) Open(c, q int) error {
	cell, err := g.CheckSelectable(c, q)
	if err != nil {
		return err
	}
	if cell.IsBonus {
		return ErrStakeRequired
	}
	g.ActiveQuestion = activeFrom(c, q, cell)
	g.ShowAnswer = false
	return nil
}

// OpenStaked opens a bonus cell for a single staking team. Buzzing stays
// locked for the whole question.
func (g *Game) OpenStaked(c, q int, team Team, stake int) error {
	cell, err := g.CheckSelectable(c, q)
	if err != nil {
		return err
	}
	if !cell.IsBonus {
		return ErrNotBonusQuestion
	}
	if err := CheckStake(team.Score, stake); err != nil {
		return err
	}
	aq := activeFrom(c, q, cell)
	aq.BuzzerLocked = true
	aq.IsBonus = true
	aq.Stake = stake
	aq.StakingTeamID = team.ID
	aq.StakingTeamName = team.Name
	aq.StakeConfirmed = true
	g.ActiveQuestion = aq
	g.ShowAnswer = false
	return nil
}

func activeFrom(c, q int, cell *Question) *ActiveQuestion {
	return &ActiveQuestion{
		CategoryIndex: c,
		QuestionIndex: q,
		Prompt:        cell.Prompt,
		Answer:        cell.Answer,
		Value:         cell.Value,
	}
}

func (g *Game) Reveal() error {
	if g.ActiveQuestion == nil {
		return ErrNoActiveQuestion
	}
	g.ShowAnswer = true
	return nil
}

// LockBuzzer records the arbitration winner. It refuses when the buzzer is
// already locked, so a second winner can never be written over the first.
func (g *Game) LockBuzzer(b BuzzedTeam) error {
	aq := g.ActiveQuestion
	if aq == nil {
		return ErrStaleBuzz
	}
	if aq.IsBonus {
		return ErrBonusQuestion
	}
	if aq.BuzzerLocked {
		return ErrBuzzerLocked
	}
	aq.BuzzedTeam = &b
	aq.BuzzerLocked = true
	return nil
}

// ResetBuzzer reopens the active question for another team after a wrong
// answer.
func (g *Game) ResetBuzzer() error {
	aq := g.ActiveQuestion
	if aq == nil {
		return ErrNoActiveQuestion
	}
	if aq.IsBonus {
		return ErrBonusQuestion
	}
	if !aq.BuzzerLocked {
		return ErrBuzzerNotLocked
	}
	aq.BuzzedTeam = nil
	aq.BuzzerLocked = false
	return nil
}

// Close clears the active question, optionally marking its cell used. A
// staked bonus question is always marked used. Closing when nothing is
// active is a no-op so that a repeated close is harmless; the returned
// bool reports whether anything changed.
func (g *Game) Close(markUsed bool) bool {
	aq := g.ActiveQuestion
	if aq == nil {
		return false
	}
	if aq.IsBonus && aq.StakeConfirmed {
		markUsed = true
	}
	if markUsed {
		if cell, err := g.Cell(aq.CategoryIndex, aq.QuestionIndex); err == nil {
			cell.Used = true
		}
	}
	g.ActiveQuestion = nil
	g.ShowAnswer = false
	return true
}
