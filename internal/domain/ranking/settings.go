package ranking

import (
	"fmt"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS NAMES
// ══════════════════════════════════════════════════════════════════════════════

// Имена настроек в хранилище (таблица ranking_settings).
const (
	SettingFieldMultipliers      = "field_multipliers"
	SettingTimeDecay             = "time_decay"
	SettingEventLevelMultipliers = "event_level_multipliers"
)

// MaxFieldSize - размер зачёта, начиная с которого множитель не растёт.
const MaxFieldSize = 15

// maxMultiplier - верхняя граница для любого множителя при сохранении.
const maxMultiplier = 10.0

// ══════════════════════════════════════════════════════════════════════════════
// FIELD MULTIPLIERS
// ══════════════════════════════════════════════════════════════════════════════

// defaultFieldRamp - множители для размеров зачёта 1..15.
var defaultFieldRamp = [MaxFieldSize]float64{
	0.75, 0.77, 0.79, 0.81, 0.83,
	0.85, 0.87, 0.89, 0.91, 0.93,
	0.95, 0.97, 0.98, 0.99, 1.00,
}

// FieldMultipliers сопоставляет размер зачёта (1..15) и множитель силы зачёта.
type FieldMultipliers map[int]float64

// DefaultFieldMultipliers возвращает таблицу по умолчанию (0.75 → 1.00).
func DefaultFieldMultipliers() FieldMultipliers {
	fm := make(FieldMultipliers, MaxFieldSize)
	for i, v := range defaultFieldRamp {
		fm[i+1] = v
	}
	return fm
}

// ClampFieldSize приводит размер зачёта к диапазону 1..15.
// Размер 0 (нет данных) считается как 1.
func ClampFieldSize(size int) int {
	if size < 1 {
		return 1
	}
	if size > MaxFieldSize {
		return MaxFieldSize
	}
	return size
}

// For возвращает множитель для размера зачёта.
// Если в сохранённой таблице нет ключа, используется значение по умолчанию.
func (fm FieldMultipliers) For(fieldSize int) float64 {
	size := ClampFieldSize(fieldSize)
	if v, ok := fm[size]; ok {
		return v
	}
	return defaultFieldRamp[size-1]
}

// Validate проверяет ключи и значения таблицы.
func (fm FieldMultipliers) Validate() error {
	if len(fm) == 0 {
		return fmt.Errorf("field multipliers: %w", ErrInvalidFieldSize)
	}
	for size, v := range fm {
		if size < 1 || size > MaxFieldSize {
			return fmt.Errorf("field multipliers[%d]: %w", size, ErrInvalidFieldSize)
		}
		if v < 0 || v > maxMultiplier {
			return fmt.Errorf("field multipliers[%d]=%v: %w", size, v, ErrInvalidMultiplier)
		}
	}
	return nil
}

// Sizes возвращает отсортированные ключи таблицы.
func (fm FieldMultipliers) Sizes() []int {
	sizes := make([]int, 0, len(fm))
	for size := range fm {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	return sizes
}

// ══════════════════════════════════════════════════════════════════════════════
// TIME DECAY
// ══════════════════════════════════════════════════════════════════════════════

// TimeDecay задаёт множители давности результата по полным календарным месяцам.
type TimeDecay struct {
	// Months1To12 - результат моложе 12 месяцев.
	Months1To12 float64 `json:"months_1_12" toml:"months_1_12"`

	// Months13To24 - от 12 до 23 месяцев.
	Months13To24 float64 `json:"months_13_24" toml:"months_13_24"`

	// Months25Plus - 24 месяца и старше.
	Months25Plus float64 `json:"months_25_plus" toml:"months_25_plus"`
}

// DefaultTimeDecay возвращает {1.00, 0.50, 0.00}.
func DefaultTimeDecay() TimeDecay {
	return TimeDecay{
		Months1To12:  1.00,
		Months13To24: 0.50,
		Months25Plus: 0.00,
	}
}

// For возвращает множитель давности для разницы в месяцах.
func (td TimeDecay) For(monthsDiff int) float64 {
	switch {
	case monthsDiff < 12:
		return td.Months1To12
	case monthsDiff < 24:
		return td.Months13To24
	default:
		return td.Months25Plus
	}
}

// Validate проверяет диапазоны множителей.
func (td TimeDecay) Validate() error {
	for name, v := range map[string]float64{
		"months_1_12":    td.Months1To12,
		"months_13_24":   td.Months13To24,
		"months_25_plus": td.Months25Plus,
	} {
		if v < 0 || v > maxMultiplier {
			return fmt.Errorf("time decay %s=%v: %w", name, v, ErrInvalidMultiplier)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT LEVEL MULTIPLIERS
// ══════════════════════════════════════════════════════════════════════════════

// Уровни соревнований.
const (
	EventLevelNational    = "national"
	EventLevelSportmotion = "sportmotion"
)

// EventLevelMultipliers сопоставляет уровень соревнования и множитель.
type EventLevelMultipliers map[string]float64

// DefaultEventLevelMultipliers возвращает national=1.00, sportmotion=0.50.
func DefaultEventLevelMultipliers() EventLevelMultipliers {
	return EventLevelMultipliers{
		EventLevelNational:    1.00,
		EventLevelSportmotion: 0.50,
	}
}

// For возвращает множитель уровня. Неизвестный уровень даёт 1.00.
func (m EventLevelMultipliers) For(level string) float64 {
	if v, ok := m[level]; ok {
		return v
	}
	return 1.00
}

// Validate проверяет значения.
func (m EventLevelMultipliers) Validate() error {
	for level, v := range m {
		if level == "" {
			return fmt.Errorf("event level multipliers: empty level: %w", ErrInvalidMultiplier)
		}
		if v < 0 || v > maxMultiplier {
			return fmt.Errorf("event level multipliers[%s]=%v: %w", level, v, ErrInvalidMultiplier)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS (snapshot of all tables for one run)
// ══════════════════════════════════════════════════════════════════════════════

// Settings - все три таблицы множителей, зафиксированные на время одного расчёта.
type Settings struct {
	FieldMultipliers      FieldMultipliers
	TimeDecay             TimeDecay
	EventLevelMultipliers EventLevelMultipliers
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		FieldMultipliers:      DefaultFieldMultipliers(),
		TimeDecay:             DefaultTimeDecay(),
		EventLevelMultipliers: DefaultEventLevelMultipliers(),
	}
}
