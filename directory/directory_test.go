package directory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/swim-ledger/directory"
	"github.com/warp/swim-ledger/ledger"
)

func TestDefault(t *testing.T) {
	d := directory.Default()

	all := d.All()
	assert.Len(t, all, 10)
	assert.Equal(t, ledger.StudentID("stu_101"), all[0].ID)
	assert.Equal(t, ledger.StudentID("stu_110"), all[9].ID)
}

func TestDisplay(t *testing.T) {
	d := directory.Default()

	assert.Equal(t, "stu_101 (Ali bin Ahmad)", d.Display("stu_101"))
	assert.Equal(t, "stu_999", d.Display("stu_999"))
	assert.Equal(t, "Kavitha Devi", d.Name("stu_110"))
	assert.Empty(t, d.Name("stu_999"))
}

func TestNew_IgnoresDuplicates(t *testing.T) {
	d := directory.New([]directory.Student{
		{ID: "stu_2", Name: "B"},
		{ID: "stu_1", Name: "A"},
		{ID: "stu_2", Name: "Other"},
	})

	s, ok := d.Lookup("stu_2")
	assert.True(t, ok)
	assert.Equal(t, "B", s.Name)
	assert.Len(t, d.All(), 2)
	assert.Equal(t, ledger.StudentID("stu_1"), d.All()[0].ID)
}
