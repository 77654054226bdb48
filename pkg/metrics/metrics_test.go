package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Admission("conversations", ResultAllowed)
	m.Admission("conversations", ResultAllowed)
	m.Admission("conversations", ResultAPILimit)
	m.StoreError("bulk_upsert")
	m.StoreWrites("bulk_upsert", 3)
	m.Account("t1", "a1", 3, 600)
	m.PendingWrites(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("conversations", ResultAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues("bulk_upsert")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.storeWrites.WithLabelValues("bulk_upsert")))
	assert.Equal(t, 600.0, testutil.ToFloat64(m.platformLimit.WithLabelValues("t1", "a1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingWrites))

	expected := `
# HELP igautomate_engaged_users Users engaged within the engagement window, per account.
# TYPE igautomate_engaged_users gauge
igautomate_engaged_users{account="a1",tenant="t1"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "igautomate_engaged_users"))

	m.ForgetAccount("t1", "a1")
	assert.Equal(t, 0, testutil.CollectAndCount(m.engagedUsers))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Admission("send_text", ResultAllowed)
	m.StoreError("upsert")
	m.StoreWrites("upsert", 1)
	m.Account("t1", "a1", 1, 200)
	m.ForgetAccount("t1", "a1")
	m.PendingWrites(0)
}
