package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idlink/internal/audit"
	"idlink/internal/contact/models"
	"idlink/internal/contact/service"
	"idlink/internal/contact/store"
	dErrors "idlink/pkg/domain-errors"
)

func newTestService(t *testing.T) (*service.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := service.New(service.NewInMemoryStoreTx(mem))
	return svc, mem
}

func identifiers(t *testing.T, email, phone string) models.Identifiers {
	t.Helper()
	ids, err := models.NewIdentifiers(email, phone)
	require.NoError(t, err)
	return ids
}

func reconcile(t *testing.T, svc *service.Service, email, phone string) *models.ConsolidatedContact {
	t.Helper()
	result, err := svc.Reconcile(context.Background(), identifiers(t, email, phone))
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestReconcile_NoMatchCreatesPrimary(t *testing.T) {
	svc, _ := newTestService(t)

	result := reconcile(t, svc, "fresh@x.com", "111")

	assert.Equal(t, []string{"fresh@x.com"}, result.Emails)
	assert.Equal(t, []string{"111"}, result.PhoneNumbers)
	assert.Empty(t, result.SecondaryContactIDs)
}

func TestReconcile_Idempotence(t *testing.T) {
	svc, mem := newTestService(t)

	first := reconcile(t, svc, "a@x.com", "111")
	second := reconcile(t, svc, "a@x.com", "111")

	assert.Equal(t, first.PrimaryContactID, second.PrimaryContactID)
	assert.Empty(t, second.SecondaryContactIDs, "identical replay must not create records")

	cluster, err := mem.FindCluster(context.Background(), first.PrimaryContactID)
	require.NoError(t, err)
	assert.Len(t, cluster, 1)
}

func TestReconcile_PartialMatchCreatesSecondary(t *testing.T) {
	svc, _ := newTestService(t)

	primary := reconcile(t, svc, "a@x.com", "111")
	result := reconcile(t, svc, "a@x.com", "222")

	assert.Equal(t, primary.PrimaryContactID, result.PrimaryContactID)
	assert.Equal(t, []string{"a@x.com"}, result.Emails)
	assert.Equal(t, []string{"111", "222"}, result.PhoneNumbers)
	require.Len(t, result.SecondaryContactIDs, 1)
	assert.NotEqual(t, primary.PrimaryContactID, result.SecondaryContactIDs[0])
}

func TestReconcile_EmailOnlyAndPhoneOnly(t *testing.T) {
	svc, _ := newTestService(t)

	byEmail := reconcile(t, svc, "solo@x.com", "")
	assert.Empty(t, byEmail.PhoneNumbers)

	byPhone := reconcile(t, svc, "", "999")
	assert.Empty(t, byPhone.Emails)
	assert.NotEqual(t, byEmail.PrimaryContactID, byPhone.PrimaryContactID)

	// The same email again resolves to the same cluster without growth.
	again := reconcile(t, svc, "solo@x.com", "")
	assert.Equal(t, byEmail.PrimaryContactID, again.PrimaryContactID)
	assert.Empty(t, again.SecondaryContactIDs)
}

func TestReconcile_MergeOldestWins(t *testing.T) {
	svc, mem := newTestService(t)

	clusterA := reconcile(t, svc, "a@x.com", "111")
	clusterB := reconcile(t, svc, "b@x.com", "222")
	require.NotEqual(t, clusterA.PrimaryContactID, clusterB.PrimaryContactID)

	// Bridging pair: A's email, B's phone.
	merged := reconcile(t, svc, "a@x.com", "222")

	assert.Equal(t, clusterA.PrimaryContactID, merged.PrimaryContactID, "oldest primary survives")
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, merged.Emails)
	assert.Equal(t, []string{"111", "222"}, merged.PhoneNumbers)
	assert.Contains(t, merged.SecondaryContactIDs, clusterB.PrimaryContactID)

	assertSinglePrimary(t, mem, merged.PrimaryContactID)
}

func TestReconcile_MergeFlattensChains(t *testing.T) {
	svc, mem := newTestService(t)

	root := reconcile(t, svc, "a@x.com", "111")
	other := reconcile(t, svc, "b@x.com", "222")
	// Secondary under the soon-to-be-absorbed cluster.
	withSecondary := reconcile(t, svc, "b@x.com", "333")
	require.Len(t, withSecondary.SecondaryContactIDs, 1)
	secondaryID := withSecondary.SecondaryContactIDs[0]

	merged := reconcile(t, svc, "a@x.com", "222")
	require.Equal(t, root.PrimaryContactID, merged.PrimaryContactID)

	// Every former member of B's cluster now links directly at the root.
	cluster, err := mem.FindCluster(context.Background(), root.PrimaryContactID)
	require.NoError(t, err)
	for _, c := range cluster {
		if c.ID == root.PrimaryContactID {
			continue
		}
		require.NotNil(t, c.LinkedID, "contact %d must be linked", c.ID)
		assert.Equal(t, root.PrimaryContactID, *c.LinkedID, "no two-hop chain may survive a merge")
	}
	assert.Contains(t, merged.SecondaryContactIDs, other.PrimaryContactID)
	assert.Contains(t, merged.SecondaryContactIDs, secondaryID)
}

func TestReconcile_ThreeWayMerge(t *testing.T) {
	svc, mem := newTestService(t)

	a := reconcile(t, svc, "a@x.com", "111")
	b := reconcile(t, svc, "b@x.com", "222")
	c := reconcile(t, svc, "c@x.com", "333")

	// Two bridges collapse all three into the oldest.
	reconcile(t, svc, "a@x.com", "222")
	merged := reconcile(t, svc, "b@x.com", "333")

	assert.Equal(t, a.PrimaryContactID, merged.PrimaryContactID)
	assert.ElementsMatch(t, []int64{b.PrimaryContactID, c.PrimaryContactID},
		append([]int64{}, merged.SecondaryContactIDs...))
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, merged.Emails)
	assert.Equal(t, []string{"111", "222", "333"}, merged.PhoneNumbers)

	assertSinglePrimary(t, mem, merged.PrimaryContactID)
}

func TestReconcile_MergeReplayIsStable(t *testing.T) {
	svc, mem := newTestService(t)

	reconcile(t, svc, "a@x.com", "111")
	reconcile(t, svc, "b@x.com", "222")

	first := reconcile(t, svc, "a@x.com", "222")
	clusterBefore, err := mem.FindCluster(context.Background(), first.PrimaryContactID)
	require.NoError(t, err)

	second := reconcile(t, svc, "a@x.com", "222")
	clusterAfter, err := mem.FindCluster(context.Background(), second.PrimaryContactID)
	require.NoError(t, err)

	assert.Equal(t, first.PrimaryContactID, second.PrimaryContactID)
	assert.Len(t, clusterAfter, len(clusterBefore), "merge replay must not grow the cluster")
}

func TestReconcile_PrimaryIdentifiersSortFirst(t *testing.T) {
	svc, _ := newTestService(t)

	reconcile(t, svc, "a@x.com", "111")
	reconcile(t, svc, "a@x.com", "222")
	result := reconcile(t, svc, "a@x.com", "333")

	assert.Equal(t, "a@x.com", result.Emails[0])
	assert.Equal(t, "111", result.PhoneNumbers[0], "surviving primary's phone sorts first")
	assert.Equal(t, []string{"111", "222", "333"}, result.PhoneNumbers)
}

func TestReconcile_RejectsEmptyIdentifiers(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Reconcile(context.Background(), models.Identifiers{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestReconcile_CorruptLinkIsFatal(t *testing.T) {
	mem := store.NewMemory()
	svc := service.New(service.NewInMemoryStoreTx(mem))

	// A secondary without a link cannot resolve to a canonical primary.
	email := "broken@x.com"
	_, err := mem.Insert(context.Background(), models.NewContact{
		Email:      &email,
		Precedence: models.PrecedenceSecondary,
	})
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background(), identifiers(t, "broken@x.com", ""))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal), "data corruption is not silently recovered")
}

// relinkFailingStore forces the merge update to fail mid-transaction.
type relinkFailingStore struct {
	*store.Memory
}

func (s relinkFailingStore) Relink(context.Context, int64, int64) error {
	return fmt.Errorf("relink rejected")
}

func TestReconcile_AbortRollsBackAllMutations(t *testing.T) {
	mem := store.NewMemory()
	seedSvc := service.New(service.NewInMemoryStoreTx(mem))

	a := reconcile(t, seedSvc, "a@x.com", "111")
	b := reconcile(t, seedSvc, "b@x.com", "222")

	failing := service.New(service.NewInMemoryStoreTx(relinkFailingStore{mem}))
	_, err := failing.Reconcile(context.Background(), identifiers(t, "a@x.com", "222"))
	require.Error(t, err)

	// The aborted merge must leave both clusters untouched: no dangling
	// demoted primary, no half-applied link.
	for _, id := range []int64{a.PrimaryContactID, b.PrimaryContactID} {
		cluster, err := mem.FindCluster(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, cluster, 1)
		assert.Equal(t, models.PrecedencePrimary, cluster[0].Precedence)
	}
}

func TestReconcile_DisjointPairsInParallel(t *testing.T) {
	svc, mem := newTestService(t)

	const pairs = 20
	var wg sync.WaitGroup
	results := make([]*models.ConsolidatedContact, pairs)
	errs := make([]error, pairs)

	for i := 0; i < pairs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids, err := models.NewIdentifiers(fmt.Sprintf("user%d@x.com", i), fmt.Sprintf("555%04d", i))
			if err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = svc.Reconcile(context.Background(), ids)
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]struct{}, pairs)
	for i := 0; i < pairs; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		_, dup := seen[results[i].PrimaryContactID]
		assert.False(t, dup, "disjoint pairs must land in distinct clusters")
		seen[results[i].PrimaryContactID] = struct{}{}
	}

	for id := range seen {
		assertSinglePrimary(t, mem, id)
	}
}

// recordingPublisher captures audit events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestReconcile_PublishesAuditEvents(t *testing.T) {
	mem := store.NewMemory()
	pub := &recordingPublisher{}
	svc := service.New(service.NewInMemoryStoreTx(mem), service.WithAudit(pub))

	reconcile(t, svc, "a@x.com", "111")
	reconcile(t, svc, "b@x.com", "222")
	merged := reconcile(t, svc, "a@x.com", "222")
	reconcile(t, svc, "a@x.com", "222") // noop, no event

	require.Len(t, pub.events, 3)
	assert.Equal(t, "new_primary", pub.events[0].Outcome)
	assert.Equal(t, "new_primary", pub.events[1].Outcome)
	assert.Equal(t, "merged", pub.events[2].Outcome)
	assert.Equal(t, merged.PrimaryContactID, pub.events[2].PrimaryContactID)
	assert.NotEmpty(t, pub.events[2].AbsorbedPrimaryIDs)
}

// assertSinglePrimary verifies the at-most-one-primary-per-cluster invariant.
func assertSinglePrimary(t *testing.T, mem *store.Memory, primaryID int64) {
	t.Helper()
	cluster, err := mem.FindCluster(context.Background(), primaryID)
	require.NoError(t, err)
	primaries := 0
	for _, c := range cluster {
		if c.Precedence == models.PrecedencePrimary {
			primaries++
		}
	}
	assert.Equal(t, 1, primaries, "cluster must hold exactly one primary")
}
