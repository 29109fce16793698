package knowledge

import "strings"

// 实体类型体系
const (
	EntityTypePerson       = "Person"
	EntityTypeOrganization = "Organization"
	EntityTypeLocation     = "Location"
	EntityTypeProduct      = "Product"
	EntityTypeEvent        = "Event"
	EntityTypeDate         = "Date"
	EntityTypeWork         = "Work"
	EntityTypeConcept      = "Concept"
	EntityTypeResource     = "Resource"
	EntityTypeCategory     = "Category"
	EntityTypeOperation    = "Operation"
)

// EntityTypes 全部合法实体类型
var EntityTypes = []string{
	EntityTypePerson,
	EntityTypeOrganization,
	EntityTypeLocation,
	EntityTypeProduct,
	EntityTypeEvent,
	EntityTypeDate,
	EntityTypeWork,
	EntityTypeConcept,
	EntityTypeResource,
	EntityTypeCategory,
	EntityTypeOperation,
}

// 常见别名到规范类型的映射
var entityTypeAliases = map[string]string{
	"people":   EntityTypePerson,
	"person":   EntityTypePerson,
	"human":    EntityTypePerson,
	"org":      EntityTypeOrganization,
	"company":  EntityTypeOrganization,
	"place":    EntityTypeLocation,
	"geo":      EntityTypeLocation,
	"time":     EntityTypeDate,
	"datetime": EntityTypeDate,
	"book":     EntityTypeWork,
	"movie":    EntityTypeWork,
	"idea":     EntityTypeConcept,
}

// NormalizeEntityType 归一化实体类型：精确匹配、大小写不敏感匹配、
// 别名映射依次尝试，全部失败回退到Concept
func NormalizeEntityType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return EntityTypeConcept
	}

	for _, t := range EntityTypes {
		if raw == t {
			return t
		}
	}

	lower := strings.ToLower(raw)
	for _, t := range EntityTypes {
		if lower == strings.ToLower(t) {
			return t
		}
	}

	if mapped, ok := entityTypeAliases[lower]; ok {
		return mapped
	}
	return EntityTypeConcept
}
