package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestNewConnectionManager_UnreachablePrimary(t *testing.T) {
	config := ConnectionConfig{
		PrimaryURL: "postgres://nonexistent:9999/tenantguard?connect_timeout=1",
		MaxConns:   10,
		MinConns:   2,
		Timeout:    2 * time.Second,
	}

	cm, err := NewConnectionManager(config, nil)
	assert.Error(t, err)
	assert.Nil(t, cm)
	assert.Contains(t, err.Error(), "failed to ping primary")
}

func TestReplicaPoolSize(t *testing.T) {
	assert.Equal(t, 10, replicaPoolSize(20))
	assert.Equal(t, 2, replicaPoolSize(3))
	assert.Equal(t, 2, replicaPoolSize(0))
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas falls back to primary", func(t *testing.T) {
		primary := &sql.DB{}
		cm := &ConnectionManager{primary: primary}
		assert.Same(t, primary, cm.Replica())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, r2, r3 := &sql.DB{}, &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2, r3}}

		selections := make(map[*sql.DB]int)
		for i := 0; i < 30; i++ {
			selections[cm.Replica()]++
		}
		assert.Equal(t, 10, selections[r1])
		assert.Equal(t, 10, selections[r2])
		assert.Equal(t, 10, selections[r3])
	})

	t.Run("concurrent selection", func(t *testing.T) {
		r1, r2 := &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2}}

		var wg sync.WaitGroup
		results := make(chan *sql.DB, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- cm.Replica()
			}()
		}
		wg.Wait()
		close(results)

		count := 0
		for db := range results {
			assert.True(t, db == r1 || db == r2)
			count++
		}
		assert.Equal(t, 100, count)
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing()

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
		assert.NoError(t, cm.HealthCheck(context.Background()))
		assert.NoError(t, pm.ExpectationsWereMet())
		assert.NoError(t, rm.ExpectationsWereMet())
	})

	t.Run("unhealthy primary", func(t *testing.T) {
		primary, pm := newPingMock(t)
		pm.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: primary}
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("one of two replicas down is degraded but healthy", func(t *testing.T) {
		primary, pm := newPingMock(t)
		r1, m1 := newPingMock(t)
		r2, m2 := newPingMock(t)
		pm.ExpectPing()
		m1.ExpectPing()
		m2.ExpectPing().WillReturnError(errors.New("timeout"))

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1, r2}}
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		r1, m1 := newPingMock(t)
		pm.ExpectPing()
		m1.ExpectPing().WillReturnError(errors.New("timeout"))

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1}}
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy")
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	r1, m1 := newPingMock(t)
	r2, m2 := newPingMock(t)
	m1.ExpectPing()
	m2.ExpectPing().WillReturnError(errors.New("connection refused"))
	m2.ExpectClose()

	cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2}}
	removed := cm.RemoveUnhealthyReplicas(context.Background())

	assert.Equal(t, 1, removed)
	require.Len(t, cm.replicas, 1)
	assert.Same(t, r1, cm.replicas[0])
	assert.NoError(t, m2.ExpectationsWereMet())
}

func TestConnectionManager_StartHealthCheckRoutine(t *testing.T) {
	r1, m1 := newPingMock(t)
	m1.ExpectPing().WillReturnError(errors.New("connection refused"))
	m1.ExpectClose()

	cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm.StartHealthCheckRoutine(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		cm.mu.RLock()
		defer cm.mu.RUnlock()
		return len(cm.replicas) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_Close(t *testing.T) {
	primary, pm := newPingMock(t)
	replica, rm := newPingMock(t)
	pm.ExpectClose()
	rm.ExpectClose().WillReturnError(errors.New("close failed"))

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
	err := cm.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica-0")
	assert.Nil(t, cm.replicas)
}
