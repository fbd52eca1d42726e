package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alejandrodnm/perpbot/internal/application/engine/paper"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console prints session status to stdout.
type Console struct {
	out   io.Writer
	table bool // full tables vs compact one-liner
}

// NewConsole creates a console notifier. table selects the full table
// output over the compact status line.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// PrintStatus prints the session snapshot: compact line by default, full
// position/order tables when table output is enabled.
func (c *Console) PrintStatus(st paper.Status) {
	now := time.Now().Format("15:04:05")

	breaker := "OK"
	if st.Breaker.Tripped {
		breaker = "TRIPPED"
	}
	fmt.Fprintf(c.out, "[%s][PAPER %s] equity $%.2f | bal $%.2f/$%.2f | %d pos | %d open ord | dd %.2f%% | breaker %s\n",
		now, shortID(st.SessionID), st.Equity,
		st.Balance.Available, st.Balance.Total,
		len(st.Positions), len(st.OpenOrders),
		st.Breaker.DrawdownPct*100, breaker)

	if st.Breaker.Tripped {
		fmt.Fprintf(c.out, "  !! breaker: %s\n", st.Breaker.TripReason)
	}
	if !c.table {
		return
	}

	if len(st.Positions) > 0 {
		c.printPositions(st.Positions, st)
	}
	if len(st.OpenOrders) > 0 {
		c.printOrders(st.OpenOrders)
	}
	fmt.Fprintf(c.out, "  next funding: %s | daily pnl $%.2f | fees $%.2f\n",
		st.NextFunding.Format("15:04 MST"), st.Breaker.DailyPnL, st.Summary.TotalFees)
}

// PrintExitSummary prints the final session accounting.
func (c *Console) PrintExitSummary(st paper.Status) {
	fmt.Fprintf(c.out, "\n=== SESSION %s SUMMARY ===\n", shortID(st.SessionID))

	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Initial equity", fmt.Sprintf("$%.2f", st.Breaker.InitialEquity))
	table.Append("Final equity", fmt.Sprintf("$%.2f", st.Equity))
	table.Append("Peak equity", fmt.Sprintf("$%.2f", st.Breaker.PeakEquity))
	table.Append("Max drawdown", fmt.Sprintf("%.2f%%", st.Breaker.DrawdownPct*100))
	table.Append("Realized PnL", fmt.Sprintf("$%.2f", st.Summary.TotalRealized))
	table.Append("Fees paid", fmt.Sprintf("$%.2f", st.Summary.TotalFees))
	table.Append("Open positions", fmt.Sprintf("%d", st.Summary.OpenPositions))
	if st.Breaker.Tripped {
		table.Append("Breaker", st.Breaker.TripReason)
	}
	table.Render()
}

func (c *Console) printPositions(positions []domain.PaperPosition, st paper.Status) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Instrument", "Qty", "Entry", "Realized", "Fees", "Mode")
	for _, pos := range positions {
		table.Append(
			pos.Instrument,
			fmt.Sprintf("%.6f", pos.Quantity),
			fmt.Sprintf("%.2f", pos.AvgEntryPrice),
			fmt.Sprintf("$%.2f", pos.RealizedPnL),
			fmt.Sprintf("$%.2f", pos.FeesPaid),
			string(pos.MarginMode),
		)
	}
	table.Render()
}

func (c *Console) printOrders(orders []domain.PaperOrder) {
	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Instrument", "Side", "Type", "Qty", "Price", "Status")
	for _, o := range orders {
		price := "-"
		if o.Type == domain.OrderLimit {
			price = fmt.Sprintf("%.2f", o.Price)
		}
		table.Append(shortID(o.ID), o.Instrument, string(o.Side), string(o.Type),
			fmt.Sprintf("%.6f", o.Quantity), price, string(o.Status))
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
