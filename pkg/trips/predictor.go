package trips

import (
	"github.com/slxcharge/slxcharge/pkg/types"
)

// DefaultHorizon is the number of days predicted.
const DefaultHorizon = 7

// Predict returns candidate distances for each of the horizon days after the
// last processed day. Candidates are the distances observed on the same
// weekday, most recent first.
func Predict(x *Index, horizon int) map[types.Date][]float64 {
	after, ok := x.LastProcessed()
	if !ok {
		return nil
	}
	hist := x.Histogram()
	out := make(map[types.Date][]float64, horizon)
	for i := 1; i <= horizon; i++ {
		d := after.AddDays(i)
		obs := hist[d.Weekday()]
		candidates := make([]float64, 0, len(obs))
		for j := len(obs) - 1; j >= 0; j-- {
			candidates = append(candidates, obs[j])
		}
		out[d] = candidates
	}
	return out
}
