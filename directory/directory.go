// Package directory is the read-only student roster.
// Charges reference students by id; the directory only supplies display names.
package directory

import (
	"sort"

	"github.com/warp/swim-ledger/ledger"
)

type Student struct {
	ID   ledger.StudentID
	Name string
}

// Directory resolves student ids to names.
type Directory struct {
	students []Student
	byID     map[ledger.StudentID]Student
}

// New builds a directory. Later duplicates of an id are ignored.
func New(students []Student) *Directory {
	d := &Directory{byID: make(map[ledger.StudentID]Student, len(students))}
	for _, s := range students {
		if _, dup := d.byID[s.ID]; dup {
			continue
		}
		d.byID[s.ID] = s
		d.students = append(d.students, s)
	}
	sort.SliceStable(d.students, func(i, j int) bool { return d.students[i].ID < d.students[j].ID })
	return d
}

// Default returns the swim school's enrolled students.
func Default() *Directory {
	return New([]Student{
		{ID: "stu_101", Name: "Ali bin Ahmad"},
		{ID: "stu_102", Name: "Siti Nurhaliza"},
		{ID: "stu_103", Name: "Chen Wei Lun"},
		{ID: "stu_104", Name: "Raj Kumar"},
		{ID: "stu_105", Name: "Emma Tan"},
		{ID: "stu_106", Name: "Muhammad Hakim"},
		{ID: "stu_107", Name: "Nurul Ain"},
		{ID: "stu_108", Name: "Lee Xin Yi"},
		{ID: "stu_109", Name: "Amir Hafiz"},
		{ID: "stu_110", Name: "Kavitha Devi"},
	})
}

// All returns the students ordered by id.
func (d *Directory) All() []Student {
	out := make([]Student, len(d.students))
	copy(out, d.students)
	return out
}

func (d *Directory) Lookup(id ledger.StudentID) (Student, bool) {
	s, ok := d.byID[id]
	return s, ok
}

// Name returns the student's name, or "" when unknown.
func (d *Directory) Name(id ledger.StudentID) string {
	return d.byID[id].Name
}

// Display renders "stu_101 (Ali bin Ahmad)", or the bare id when unknown.
func (d *Directory) Display(id ledger.StudentID) string {
	if s, ok := d.byID[id]; ok {
		return string(id) + " (" + s.Name + ")"
	}
	return string(id)
}
