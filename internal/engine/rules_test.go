package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		own, opp Choice
		want     Outcome
	}{
		{ChoiceRock, ChoiceScissors, OutcomeWin},
		{ChoiceScissors, ChoicePaper, OutcomeWin},
		{ChoicePaper, ChoiceRock, OutcomeWin},
		{ChoiceScissors, ChoiceRock, OutcomeLose},
		{ChoicePaper, ChoiceScissors, OutcomeLose},
		{ChoiceRock, ChoicePaper, OutcomeLose},
		{ChoiceRock, ChoiceRock, OutcomeDraw},
		{ChoicePaper, ChoicePaper, OutcomeDraw},
		{ChoiceScissors, ChoiceScissors, OutcomeDraw},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s vs %s", tc.own, tc.opp), func(t *testing.T) {
			if got := Decide(tc.own, tc.opp); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPoints_ParticipationFloor(t *testing.T) {
	if Points(OutcomeWin) != 3 || Points(OutcomeDraw) != 2 || Points(OutcomeLose) != 1 {
		t.Fatalf("points table changed: win=%d draw=%d lose=%d",
			Points(OutcomeWin), Points(OutcomeDraw), Points(OutcomeLose))
	}
}

func TestParseChoice(t *testing.T) {
	cases := []struct {
		in      string
		want    Choice
		wantErr bool
	}{
		{in: "rock", want: ChoiceRock},
		{in: " Paper ", want: ChoicePaper},
		{in: "SCISSORS", want: ChoiceScissors},
		{in: "", wantErr: true},
		{in: "spock", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseChoice(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidChoice) {
					t.Fatalf("want ErrInvalidChoice, got %v", err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestRandomChoice_AlwaysValid(t *testing.T) {
	seen := map[Choice]bool{}
	for i := 0; i < 300; i++ {
		c := RandomChoice()
		if !c.Valid() {
			t.Fatalf("invalid random choice %q", c)
		}
		seen[c] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all three choices over 300 draws, saw %v", seen)
	}
}

func TestLabel(t *testing.T) {
	if OutcomeWin.Label() != "Win" || OutcomeLose.Label() != "Lose" || OutcomeDraw.Label() != "Draw" {
		t.Fatalf("labels changed")
	}
}
