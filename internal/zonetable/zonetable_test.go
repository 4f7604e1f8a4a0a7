package zonetable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flirble-lb/flirble-dns-server/internal/model"
)

func TestTable_SetGetDelete(t *testing.T) {
	tbl := New()

	_, ok := tbl.Get("example.com.")
	assert.False(t, ok)

	tbl.Set("example.com.", model.Zone{Type: model.ZoneStatic})
	z, ok := tbl.Get("example.com.")
	assert.True(t, ok)
	assert.Equal(t, model.ZoneStatic, z.Type)
	assert.Equal(t, 1, tbl.Len())

	tbl.Delete("example.com.")
	_, ok = tbl.Get("example.com.")
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_SetReplacesAtomically(t *testing.T) {
	tbl := New()
	ttl := uint32(60)
	tbl.Set("z.", model.Zone{Type: model.ZoneStatic, TTL: &ttl})
	tbl.Set("z.", model.Zone{Type: model.ZoneGeoDist})

	z, ok := tbl.Get("z.")
	assert.True(t, ok)
	assert.Equal(t, model.ZoneGeoDist, z.Type)
}
