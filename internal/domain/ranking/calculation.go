package ranking

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN REPORT
// ══════════════════════════════════════════════════════════════════════════════

// UnitReport - результат сохранения одного снапшота (дисциплина × тип).
type UnitReport struct {
	Discipline    Discipline `json:"discipline"`
	Kind          EntityKind `json:"kind"`
	SnapshotDate  time.Time  `json:"snapshot_date"`
	ReferenceDate time.Time  `json:"reference_date"`
	Saved         int        `json:"saved"`
	Error         string     `json:"error,omitempty"`
	err           error
}

// Failed возвращает true, если сохранение не удалось.
func (u UnitReport) Failed() bool {
	return u.err != nil || u.Error != ""
}

// Err возвращает ошибку сохранения.
func (u UnitReport) Err() error {
	return u.err
}

// String возвращает строку вида "ENDURO rider: 1200 saved".
func (u UnitReport) String() string {
	if u.Failed() {
		return fmt.Sprintf("%s %s: failed: %s", u.Discipline, u.Kind, u.Error)
	}
	return fmt.Sprintf("%s %s: %d saved", u.Discipline, u.Kind, u.Saved)
}

// NewUnitReport создаёт отчёт по единице. err может быть nil.
func NewUnitReport(d Discipline, kind EntityKind, snapshotDate, reference time.Time, saved int, err error) UnitReport {
	u := UnitReport{
		Discipline:    d,
		Kind:          kind,
		SnapshotDate:  snapshotDate,
		ReferenceDate: reference,
		Saved:         saved,
		err:           err,
	}
	if err != nil {
		u.Error = err.Error()
		u.Saved = 0
	}
	return u
}

// RunReport - итог полного пересчёта по всем дисциплинам.
// Частичный успех допустим: каждая единица сообщает свой результат.
type RunReport struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Units      []UnitReport `json:"units"`
}

// Add добавляет отчёт по единице.
func (r *RunReport) Add(u UnitReport) {
	r.Units = append(r.Units, u)
}

// Failures возвращает неудавшиеся единицы.
func (r *RunReport) Failures() []UnitReport {
	var out []UnitReport
	for _, u := range r.Units {
		if u.Failed() {
			out = append(out, u)
		}
	}
	return out
}

// TotalSaved возвращает общее количество сохранённых строк.
func (r *RunReport) TotalSaved() int {
	var n int
	for _, u := range r.Units {
		n += u.Saved
	}
	return n
}

// Err объединяет ошибки всех неудавшихся единиц (nil при полном успехе).
func (r *RunReport) Err() error {
	var errs []error
	for _, u := range r.Units {
		if !u.Failed() {
			continue
		}
		err := u.err
		if err == nil {
			err = errors.New(u.Error)
		}
		errs = append(errs, fmt.Errorf("%s %s: %w", u.Discipline, u.Kind, err))
	}
	return errors.Join(errs...)
}

// Summary возвращает отчёт в одну строку для логов.
func (r *RunReport) Summary() string {
	parts := make([]string, 0, len(r.Units))
	for _, u := range r.Units {
		parts = append(parts, u.String())
	}
	return strings.Join(parts, "; ")
}

// ══════════════════════════════════════════════════════════════════════════════
// LAST CALCULATION
// ══════════════════════════════════════════════════════════════════════════════

// CalculationRecord - запись о последнем полном пересчёте.
type CalculationRecord struct {
	RunID        string    `json:"run_id"`
	CalculatedAt time.Time `json:"calculated_at"`
	Report       RunReport `json:"report"`
}
