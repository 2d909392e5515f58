package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/radieske/count-market-engine/internal/round-engine/engine"
)

// Console imprime a visão de operador do motor (apenas ambiente local)
type Console struct {
	out   io.Writer
	every time.Duration
}

// New cria um console em stdout, imprimindo no máximo uma vez por every
func New(every time.Duration) *Console {
	return &Console{out: os.Stdout, every: every}
}

// NewWriter cria um console para testes
func NewWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Run consome snapshots e imprime o mais recente a cada intervalo
func (c *Console) Run(ctx context.Context, snaps <-chan engine.Snapshot) {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snaps:
			if !ok {
				return
			}
			if !last.IsZero() && s.At.Sub(last) < c.every {
				continue
			}
			last = s.At
			c.Render(s)
		}
	}
}

// Render imprime o cabeçalho da rodada e a tabela de apostas
func (c *Console) Render(s engine.Snapshot) {
	conn := "offline"
	if s.Connected {
		conn = "live"
	}

	if s.Round == nil {
		next := "-"
		if s.NextRoundAt != nil {
			next = s.NextRoundAt.Format("15:04:05")
		}
		fmt.Fprintf(c.out, "[%s] %s no round | next %s\n", s.At.Format("15:04:05"), conn, next)
		return
	}

	r := s.Round
	fmt.Fprintf(c.out, "[%s] %s round %s (%s, %s) progress %s closes %s ends %s latency %dms\n",
		s.At.Format("15:04:05"), conn, r.ID, r.Status, r.MarketType,
		intOr(s.RoundProgress), secs(s.ClosesInSec), secs(s.EndsInSec), s.LatencyMs)
	if s.LastError != "" {
		fmt.Fprintf(c.out, "  last error: %s\n", s.LastError)
	}
	if s.Card != nil {
		verdict := "LOST"
		if s.Card.Won {
			verdict = "WON"
		}
		fmt.Fprintf(c.out, "  outcome %s: %s payout %d\n", s.Card.BetID, verdict, s.Card.Payout)
	}
	if len(s.Bets) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Bet", "Type", "Status", "Amount", "Baseline", "Progress", "Chance", "Hint")
	for _, b := range s.Bets {
		id := b.ID
		if b.Optimistic {
			id += "*"
		}
		chance := "-"
		if b.Chance != nil {
			chance = fmt.Sprintf("%.0f%%", *b.Chance)
		}
		table.Append(
			id,
			string(b.BetType),
			string(b.Status),
			fmt.Sprintf("%d", b.Amount),
			fmt.Sprintf("%d", b.BaselineCount),
			intOr(b.Progress),
			chance,
			b.Hint.Message,
		)
	}
	table.Render()
}

func intOr(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func secs(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0fs", *v)
}
