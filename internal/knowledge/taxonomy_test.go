package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEntityType(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"精确匹配", "Person", "Person"},
		{"大小写不敏感", "ORGANIZATION", "Organization"},
		{"小写输入", "location", "Location"},
		{"别名people", "people", "Person"},
		{"别名company", "Company", "Organization"},
		{"别名movie", "movie", "Work"},
		{"别名time", "time", "Date"},
		{"未知类型回退", "Galaxy", "Concept"},
		{"空串回退", "", "Concept"},
		{"空白回退", "   ", "Concept"},
		{"带空白修剪", "  Event  ", "Event"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeEntityType(tc.raw))
		})
	}
}
