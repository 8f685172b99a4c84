package ranking

import "errors"

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidDiscipline - неизвестная дисциплина.
	ErrInvalidDiscipline = errors.New("invalid discipline")

	// ErrInvalidEntityKind - неизвестный тип рейтинга (не rider и не club).
	ErrInvalidEntityKind = errors.New("invalid entity kind")

	// ErrInvalidMultiplier - множитель вне допустимого диапазона.
	ErrInvalidMultiplier = errors.New("invalid multiplier: must be between 0 and 10")

	// ErrInvalidFieldSize - размер зачёта вне диапазона 1..15.
	ErrInvalidFieldSize = errors.New("invalid field size: must be between 1 and 15")

	// ErrInvalidRank - ранг должен быть положительным.
	ErrInvalidRank = errors.New("invalid rank: must be positive")

	// ErrInvalidSnapshotDate - дата снапшота не задана.
	ErrInvalidSnapshotDate = errors.New("invalid snapshot date")

	// ErrSnapshotNotFound - снапшот не найден.
	ErrSnapshotNotFound = errors.New("ranking snapshot not found")

	// ErrSettingNotFound - настройка отсутствует в хранилище.
	ErrSettingNotFound = errors.New("ranking setting not found")

	// ErrNoCalculation - полный пересчёт ещё ни разу не выполнялся.
	ErrNoCalculation = errors.New("no ranking calculation recorded")
)
