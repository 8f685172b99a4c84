// Package ranking содержит доменную модель скользящего рейтинга гонщиков и клубов.
// Рейтинг строится из результатов гонок за последние 24 месяца: очки взвешиваются
// по размеру зачёта, уровню соревнования и давности, затем суммируются и
// ранжируются по схеме "1224". Результат фиксируется в датированных снапшотах.
package ranking

import (
	"fmt"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISCIPLINE
// ══════════════════════════════════════════════════════════════════════════════

// Discipline определяет дисциплину, для которой считается рейтинг.
type Discipline string

const (
	// DisciplineEnduro - эндуро.
	DisciplineEnduro Discipline = "ENDURO"
	// DisciplineDH - даунхилл.
	DisciplineDH Discipline = "DH"
	// DisciplineGravity - агрегированная дисциплина: объединение ENDURO и DH.
	DisciplineGravity Discipline = "GRAVITY"
)

// AllDisciplines возвращает все дисциплины, для которых строится рейтинг.
func AllDisciplines() []Discipline {
	return []Discipline{DisciplineEnduro, DisciplineDH, DisciplineGravity}
}

// ParseDiscipline разбирает строку без учёта регистра.
func ParseDiscipline(s string) (Discipline, error) {
	d := Discipline(strings.ToUpper(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDiscipline, s)
	}
	return d, nil
}

// IsValid проверяет, что дисциплина известна.
func (d Discipline) IsValid() bool {
	switch d {
	case DisciplineEnduro, DisciplineDH, DisciplineGravity:
		return true
	default:
		return false
	}
}

// IsAggregate возвращает true для дисциплин, объединяющих несколько других.
func (d Discipline) IsAggregate() bool {
	return d == DisciplineGravity
}

// Members возвращает конкретные дисциплины, результаты которых входят в рейтинг.
// Для GRAVITY это ENDURO и DH, для остальных - сама дисциплина.
func (d Discipline) Members() []Discipline {
	if d == DisciplineGravity {
		return []Discipline{DisciplineEnduro, DisciplineDH}
	}
	return []Discipline{d}
}

// MemberStrings возвращает Members в виде строк (удобно для SQL ANY($1)).
func (d Discipline) MemberStrings() []string {
	members := d.Members()
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = string(m)
	}
	return out
}

// Includes проверяет, входит ли конкретная дисциплина в эту.
func (d Discipline) Includes(other Discipline) bool {
	for _, m := range d.Members() {
		if m == other {
			return true
		}
	}
	return false
}

// String возвращает строковое представление дисциплины.
func (d Discipline) String() string {
	return string(d)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY KIND
// ══════════════════════════════════════════════════════════════════════════════

// EntityKind определяет, кого ранжируем: гонщиков или клубы.
type EntityKind string

const (
	// KindRider - рейтинг гонщиков.
	KindRider EntityKind = "rider"
	// KindClub - рейтинг клубов.
	KindClub EntityKind = "club"
)

// ParseEntityKind разбирает строку вида "rider" / "club".
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindRider, KindClub:
		return k, nil
	case "riders":
		return KindRider, nil
	case "clubs":
		return KindClub, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityKind, s)
	}
}

// String возвращает строковое представление.
func (k EntityKind) String() string {
	return string(k)
}
