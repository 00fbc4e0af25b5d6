package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDetectHeightPrefersLowestElement(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.evalInts[documentHeightJS] = 10000
	sess.evalInts[lowestElementJS] = 9900
	sess.evalInts[structuralContainersJS] = 9500

	h, err := detectHeight(context.Background(), sess, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(9900+heightPadding), h)
}

func TestDetectHeightFallsBackToContainers(t *testing.T) {
	t.Parallel()

	// An absolutely-positioned overlay makes the lowest-element probe wildly
	// disagree with the document height; the container probe still agrees.
	sess := newFakeSession()
	sess.evalInts[documentHeightJS] = 10000
	sess.evalInts[lowestElementJS] = 25000
	sess.evalInts[structuralContainersJS] = 9800

	h, err := detectHeight(context.Background(), sess, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(9800+heightPadding), h)
}

func TestDetectHeightFallsBackToRawDocumentHeight(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.evalInts[documentHeightJS] = 10000
	sess.evalInts[lowestElementJS] = 25000
	sess.evalErrs[structuralContainersJS] = errors.New("no containers")

	h, err := detectHeight(context.Background(), sess, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(10000+heightPadding), h)
}

func TestDetectHeightBaselineFailure(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.evalErrs[documentHeightJS] = errors.New("script blocked")

	_, err := detectHeight(context.Background(), sess, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, KindHeightDetection, KindOf(err))
}

func TestAgreesWithBaseline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		candidate int64
		baseline  int64
		want      bool
	}{
		{"exact", 1000, 1000, true},
		{"within tolerance", 1100, 1000, true},
		{"at tolerance", 1150, 1000, true},
		{"above tolerance", 1151, 1000, false},
		{"below within", 900, 1000, true},
		{"far below", 500, 1000, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, agreesWithBaseline(tc.candidate, tc.baseline))
		})
	}
}
