// Package market is an equation unit for a sector/firm market: sectors
// with growing demand, firms setting noisy prices, selling against the
// sector's average price, and exiting after losses while entrants are
// cloned from the firm blueprint.
//
// Expected model layout:
//
//	Market
//	└── Sector: Demand, growth, volatility, ExitThreshold, MinFirms,
//	    TotalShare, AvgPrice, ShareVariance, LeaderPrice, Exit, Entry
//	    └── Firm: share, cost, price, markup, sales, profit, loss, age
package market

import (
	"math"

	"github.com/abm-sim/abm-sim/sim"
)

// UnitName identifies the unit in duplicate-label errors.
const UnitName = "market"

// Unit returns the equations of the market model.
func Unit() sim.Unit {
	return sim.Unit{
		Name: UnitName,
		Equations: []sim.Equation{
			// Sector
			{Label: "Demand", LagSensitive: true, Body: demand},
			{Label: "TotalShare", Body: totalShare},
			{Label: "AvgPrice", Body: avgPrice},
			{Label: "ShareVariance", Body: shareVariance},
			{Label: "LeaderPrice", Body: leaderPrice},
			{Label: "Exit", Body: exit},
			{Label: "Entry", Body: entry},
			// Firm
			{Label: "price", LagSensitive: true, Body: price},
			{Label: "markup", Body: markup},
			{Label: "sales", Body: sales},
			{Label: "profit", Body: profit},
			{Label: "age", LagSensitive: true, Body: age},
		},
	}
}

func demand(c *sim.Ctx) float64 {
	return c.VL("Demand", 1) * (1 + c.V("growth"))
}

func totalShare(c *sim.Ctx) float64 {
	return c.Sum("Firm", "share")
}

func avgPrice(c *sim.Ctx) float64 {
	return c.WeightedAverage("Firm", "price", "share")
}

func shareVariance(c *sim.Ctx) float64 {
	return c.Stat("Firm", "share").Variance
}

// leaderPrice hooks the sector to its best-selling firm.
func leaderPrice(c *sim.Ctx) float64 {
	leader, _ := c.MaxEntityS(c.Self, "Firm", "sales")
	c.SetHook(leader)
	if leader == nil {
		return 0
	}
	return c.VS(leader, "price")
}

// exit removes firms whose last profit fell below the threshold, keeping
// at least one firm in the sector.
func exit(c *sim.Ctx) float64 {
	threshold := c.V("ExitThreshold")
	removed := 0
	for f := range c.SafeIterate("Firm") {
		if c.Count("Firm") <= 1 {
			break
		}
		if c.VLS(f, "profit", 1) < threshold {
			c.Delete(f)
			removed++
		}
	}
	return float64(removed)
}

// entry tops the sector up to MinFirms with blueprint clones.
func entry(c *sim.Ctx) float64 {
	added := 0
	for c.Err() == nil && c.Count("Firm") < int(c.V("MinFirms")) {
		if c.AddOne("Firm") == nil {
			break
		}
		added++
	}
	return float64(added)
}

// price follows a multiplicative random walk floored at cost.
func price(c *sim.Ctx) float64 {
	p := c.VL("price", 1) * (1 + c.Normal(0, c.V("volatility")))
	return math.Max(p, c.V("cost"))
}

func markup(c *sim.Ctx) float64 {
	cost := c.V("cost")
	if cost == 0 {
		return 0
	}
	return c.V("price")/cost - 1
}

// sales splits the sector's demand by share, scaled by how the firm's price
// compares with last step's sector average.
func sales(c *sim.Ctx) float64 {
	p := c.V("price")
	if p <= 0 {
		return 0
	}
	ref := c.VL("AvgPrice", 1)
	if ref <= 0 {
		ref = p
	}
	return c.VL("Demand", 1) * c.V("share") * ref / p
}

// profit also publishes loss, the dummy driven by it.
func profit(c *sim.Ctx) float64 {
	pi := (c.V("price") - c.V("cost")) * c.V("sales")
	c.Write("loss", math.Max(0, -pi))
	return pi
}

func age(c *sim.Ctx) float64 {
	return c.VL("age", 1) + 1
}
