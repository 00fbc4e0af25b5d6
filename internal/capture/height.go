package capture

import (
	"context"

	"go.uber.org/zap"
)

// heightPadding is added to every detected height so the bottom of the
// page is never clipped.
const heightPadding int64 = 200

// heightTolerance is the allowed relative disagreement between a strategy
// candidate and the raw document height.
const heightTolerance = 0.15

// documentHeightJS is the cheap baseline every strategy is checked against.
const documentHeightJS = `Math.max(document.body.scrollHeight, document.documentElement.scrollHeight)`

// lowestElementJS finds the bottom edge of the lowest visible, non-empty
// element on the page.
const lowestElementJS = `(() => {
	let max = 0;
	for (const el of document.body.querySelectorAll('*')) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		const bottom = r.bottom + window.scrollY;
		if (bottom > max) max = bottom;
	}
	return Math.round(max);
})()`

// structuralContainersJS measures known page-level containers.
const structuralContainersJS = `(() => {
	let max = 0;
	for (const sel of ['main', '#content', '.content', '#main', 'footer', '#footer']) {
		const el = document.querySelector(sel);
		if (!el) continue;
		const bottom = el.getBoundingClientRect().bottom + window.scrollY;
		if (bottom > max) max = bottom;
	}
	return Math.round(max);
})()`

// heightStrategies in descending order of trust. The first candidate that
// agrees with the raw document height within tolerance wins.
var heightStrategies = []struct {
	name string
	expr string
}{
	{"lowest_element", lowestElementJS},
	{"structural_containers", structuralContainersJS},
}

// detectHeight determines the true content height of the rendered page.
// Strategy errors are recovered locally: the raw document height is the
// final fallback, and fallback itself is the only failure mode.
func detectHeight(ctx context.Context, sess Session, logger *zap.Logger) (int64, error) {
	baseline, err := sess.EvaluateInt(ctx, documentHeightJS)
	if err != nil || baseline <= 0 {
		return 0, NewError(KindHeightDetection, "document height probe", err)
	}

	for _, strat := range heightStrategies {
		candidate, err := sess.EvaluateInt(ctx, strat.expr)
		if err != nil {
			logger.Debug("height strategy failed",
				zap.String("strategy", strat.name),
				zap.Error(err),
			)
			continue
		}
		if candidate > 0 && agreesWithBaseline(candidate, baseline) {
			logger.Debug("height detected",
				zap.String("strategy", strat.name),
				zap.Int64("height", candidate),
				zap.Int64("baseline", baseline),
			)
			return candidate + heightPadding, nil
		}
	}
	return baseline + heightPadding, nil
}

func agreesWithBaseline(candidate, baseline int64) bool {
	diff := candidate - baseline
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= heightTolerance*float64(baseline)
}
