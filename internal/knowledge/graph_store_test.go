package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeCypher(t *testing.T) {
	assert.Equal(t, `张三`, escapeCypher(`张三`))
	assert.Equal(t, `O\'Brien`, escapeCypher(`O'Brien`))
	assert.Equal(t, `a\\b`, escapeCypher(`a\b`))
	assert.Equal(t, `a\\\'b`, escapeCypher(`a\'b`))
}

func TestBuildTripleQuery(t *testing.T) {
	query := buildTripleQuery(Triple{
		Subject:     "张三",
		SubjectType: "Person",
		Predicate:   "任教于",
		Object:      "北京大学",
		ObjectType:  "Organization",
	})

	assert.Contains(t, query, `MERGE (s:Entity {name: '张三'})`)
	assert.Contains(t, query, `SET s.label = 'Person'`)
	assert.Contains(t, query, `MERGE (o:Entity {name: '北京大学'})`)
	assert.Contains(t, query, `SET o.label = 'Organization'`)
	assert.Contains(t, query, `MERGE (s)-[r:RELATES]->(o) SET r.type = '任教于'`)
}

func TestBuildTripleQueryDefaultsTypeAndEscapes(t *testing.T) {
	query := buildTripleQuery(Triple{
		Subject:   "O'Brien",
		Predicate: "wrote",
		Object:    "1984",
	})

	assert.Contains(t, query, `{name: 'O\'Brien'}`)
	assert.Contains(t, query, `SET s.label = 'Concept'`)
	assert.Contains(t, query, `SET o.label = 'Concept'`)
}

func TestParseNameColumn(t *testing.T) {
	// GRAPH.QUERY的compact应答：表头、数据行、统计信息
	raw := []interface{}{
		[]interface{}{"o.name"},
		[]interface{}{
			[]interface{}{"北京大学"},
			[]interface{}{"清华大学"},
			[]interface{}{""},
			[]interface{}{int64(42)},
		},
		[]interface{}{"Query internal execution time: 0.2"},
	}

	names := parseNameColumn(raw)
	assert.Equal(t, []string{"北京大学", "清华大学"}, names)
}

func TestParseNameColumnMalformed(t *testing.T) {
	assert.Nil(t, parseNameColumn(nil))
	assert.Nil(t, parseNameColumn("not a reply"))
	assert.Nil(t, parseNameColumn([]interface{}{[]interface{}{"header"}}))
	assert.Nil(t, parseNameColumn([]interface{}{"header", "not rows"}))
}
