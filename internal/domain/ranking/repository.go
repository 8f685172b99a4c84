package ranking

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// ResultRepository - доступ к результатам гонок (только чтение).
// Реализация находится в infrastructure слое (PostgreSQL).
type ResultRepository interface {
	// LatestEventDate возвращает самую позднюю дату соревнования, у которого есть
	// хотя бы один квалифицированный результат в дисциплине. ok == false, если таких нет.
	LatestEventDate(ctx context.Context, discipline Discipline) (date time.Time, ok bool, err error)

	// HasResultsOnOrBefore проверяет, есть ли квалифицированные результаты не позже даты.
	HasResultsOnOrBefore(ctx context.Context, discipline Discipline, date time.Time) (bool, error)

	// LoadQualifying загружает квалифицированные результаты дисциплины в окне.
	LoadQualifying(ctx context.Context, discipline Discipline, window Window) ([]Result, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// SettingsRepository хранит три именованные таблицы множителей.
// Load* возвращает ErrSettingNotFound, если строки нет.
type SettingsRepository interface {
	LoadFieldMultipliers(ctx context.Context) (FieldMultipliers, error)
	LoadTimeDecay(ctx context.Context) (TimeDecay, error)
	LoadEventLevelMultipliers(ctx context.Context) (EventLevelMultipliers, error)

	SaveFieldMultipliers(ctx context.Context, fm FieldMultipliers) error
	SaveTimeDecay(ctx context.Context, td TimeDecay) error
	SaveEventLevelMultipliers(ctx context.Context, m EventLevelMultipliers) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository хранит датированные снапшоты рейтингов.
type SnapshotRepository interface {
	// ReplaceSnapshot атомарно удаляет строки (kind, discipline, date) и вставляет новые.
	ReplaceSnapshot(ctx context.Context, snapshot *Snapshot) error

	// PreviousRanks возвращает места из последнего снапшота строго до даты.
	PreviousRanks(ctx context.Context, kind EntityKind, discipline Discipline, before time.Time) (map[int64]Rank, error)

	// SnapshotExists проверяет, есть ли снапшот на дату.
	SnapshotExists(ctx context.Context, kind EntityKind, discipline Discipline, date time.Time) (bool, error)

	// LatestSnapshotDate возвращает дату последнего снапшота. ok == false, если снапшотов нет.
	LatestSnapshotDate(ctx context.Context, kind EntityKind, discipline Discipline) (date time.Time, ok bool, err error)

	// GetPage возвращает строки снапшота на дату, упорядоченные по рангу, и общее число строк.
	GetPage(ctx context.Context, kind EntityKind, discipline Discipline, date time.Time, offset, limit int) ([]SnapshotEntry, int, error)

	// GetHistory возвращает все снапшоты одной сущности по возрастанию даты.
	GetHistory(ctx context.Context, kind EntityKind, discipline Discipline, entityID int64) ([]HistoryPoint, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CALCULATIONS
// ══════════════════════════════════════════════════════════════════════════════

// CalculationRepository хранит запись о последнем полном пересчёте.
type CalculationRepository interface {
	SaveLastCalculation(ctx context.Context, record CalculationRecord) error

	// GetLastCalculation возвращает ErrNoCalculation, если пересчётов не было.
	GetLastCalculation(ctx context.Context) (*CalculationRecord, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// DIRECTORY (read path only)
// ══════════════════════════════════════════════════════════════════════════════

// NameDirectory отдаёт отображаемые имена гонщиков и клубов.
type NameDirectory interface {
	Names(ctx context.Context, kind EntityKind, ids []int64) (map[int64]string, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE & LOCKS
// ══════════════════════════════════════════════════════════════════════════════

// PageCache кеширует страницы текущего рейтинга.
type PageCache interface {
	GetPage(ctx context.Context, kind EntityKind, discipline Discipline, page, pageSize int) (*CachedPage, error)
	SetPage(ctx context.Context, kind EntityKind, discipline Discipline, page, pageSize int, p *CachedPage) error
	Invalidate(ctx context.Context, discipline Discipline) error
}

// CachedPage - страница рейтинга в кеше.
type CachedPage struct {
	SnapshotDate time.Time       `json:"snapshot_date"`
	Total        int             `json:"total"`
	Entries      []SnapshotEntry `json:"entries"`
}

// Locker сериализует пересчёты одной дисциплины.
type Locker interface {
	// Lock блокирует дисциплину и возвращает функцию освобождения.
	Lock(ctx context.Context, discipline Discipline) (unlock func(), err error)
}
