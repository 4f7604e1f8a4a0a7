package servertable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flirble-lb/flirble-dns-server/internal/model"
)

func TestTable_Resolve_NamedSet(t *testing.T) {
	tbl := New()
	tbl.Set("pool-a", model.ServerSet{{Name: "a1"}})
	tbl.Set(model.DefaultServerSetName, model.ServerSet{{Name: "d1"}})

	s, name, ok := tbl.Resolve("pool-a")
	assert.True(t, ok)
	assert.Equal(t, "pool-a", name)
	assert.Equal(t, "a1", s[0].Name)
}

func TestTable_Resolve_FallsBackToDefault(t *testing.T) {
	tbl := New()
	tbl.Set(model.DefaultServerSetName, model.ServerSet{{Name: "d1"}})

	s, name, ok := tbl.Resolve("missing-set")
	assert.True(t, ok)
	assert.Equal(t, model.DefaultServerSetName, name)
	assert.Equal(t, "d1", s[0].Name)
}

func TestTable_Resolve_NothingAvailable(t *testing.T) {
	tbl := New()
	_, _, ok := tbl.Resolve("missing-set")
	assert.False(t, ok)
}
