package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perpbot_orders_submitted_total", Help: "Orders accepted by the simulator"})
	OrdersRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perpbot_orders_rejected_total", Help: "Orders rejected by validation or the risk breaker"})
	OrdersFilled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perpbot_orders_filled_total", Help: "Simulated fills produced"})
	FundingSettlements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perpbot_funding_settlements_total", Help: "Funding settlements applied"})
	BreakerTripped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perpbot_breaker_tripped", Help: "1 when the session circuit breaker is tripped"})
	SessionEquity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perpbot_session_equity", Help: "Current session equity in quote units"})
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted, OrdersRejected, OrdersFilled,
		FundingSettlements, BreakerTripped, SessionEquity,
	)
}
