package engine

import (
	"math/rand/v2"
	"strings"
)

type Choice string

const (
	ChoiceNone     Choice = ""
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
)

var Choices = []Choice{ChoiceRock, ChoicePaper, ChoiceScissors}

// beats[a] is the choice that a defeats.
var beats = map[Choice]Choice{
	ChoiceRock:     ChoiceScissors,
	ChoiceScissors: ChoicePaper,
	ChoicePaper:    ChoiceRock,
}

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomeDraw Outcome = "draw"
)

const (
	PointsWin  = 3
	PointsDraw = 2
	PointsLose = 1
)

func (c Choice) Valid() bool {
	_, ok := beats[c]
	return ok
}

func ParseChoice(s string) (Choice, error) {
	c := Choice(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return ChoiceNone, ErrInvalidChoice
	}
	return c, nil
}

// Decide returns the outcome for the player who chose own.
func Decide(own, opponent Choice) Outcome {
	switch {
	case own == opponent:
		return OutcomeDraw
	case beats[own] == opponent:
		return OutcomeWin
	default:
		return OutcomeLose
	}
}

func Points(o Outcome) int {
	switch o {
	case OutcomeWin:
		return PointsWin
	case OutcomeDraw:
		return PointsDraw
	default:
		return PointsLose
	}
}

// Label is the result string shown to a player: "Win", "Lose" or "Draw".
func (o Outcome) Label() string {
	switch o {
	case OutcomeWin:
		return "Win"
	case OutcomeDraw:
		return "Draw"
	default:
		return "Lose"
	}
}

// RandomChoice fills a missing choice when the countdown runs out.
// Tests swap it for a fixed picker.
var RandomChoice = func() Choice {
	return Choices[rand.IntN(len(Choices))]
}
