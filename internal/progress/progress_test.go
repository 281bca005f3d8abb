package progress

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

func TestAttachDrivesBarFromBatches(t *testing.T) {
	var buf bytes.Buffer
	ctx, tr := Attach(context.Background(), &buf, "deleting")

	at := analyzer.TrackerFromContext(ctx)
	require.NotNil(t, at)
	at.Start(2)
	at.Finish(models.BatchResult{Index: 0, Status: models.BatchCommitted})
	at.Finish(models.BatchResult{Index: 1, Status: models.BatchRolledBack})

	require.NotNil(t, tr.bar)
	assert.InDelta(t, 1.0, tr.bar.State().CurrentPercent, 1e-9)
	tr.FinishSuccess()
}

func TestFinishWithoutBatches(t *testing.T) {
	var buf bytes.Buffer
	_, tr := Attach(context.Background(), &buf, "deleting")

	tr.FinishSkipped("nothing to delete")
	tr.FinishError(errors.New("boom"))

	assert.Nil(t, tr.bar)
	assert.Contains(t, buf.String(), "deleting skipped (nothing to delete)")
	assert.Contains(t, buf.String(), "deleting error: boom")
}
