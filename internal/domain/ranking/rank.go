package ranking

import (
	"fmt"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank представляет место в рейтинге. Начинается с 1.
type Rank int

// IsValid проверяет, что ранг положительный.
func (r Rank) IsValid() bool {
	return r > 0
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// RankChange - изменение места относительно предыдущего снапшота.
// Положительное значение = подъём, отрицательное = падение.
type RankChange int

// ComputeRankChange возвращает previous - current.
func ComputeRankChange(previous, current Rank) RankChange {
	return RankChange(previous - current)
}

// Direction возвращает направление изменения.
func (rc RankChange) Direction() RankDirection {
	switch {
	case rc > 0:
		return RankDirectionUp
	case rc < 0:
		return RankDirectionDown
	default:
		return RankDirectionStable
	}
}

// String возвращает строковое представление изменения.
func (rc RankChange) String() string {
	switch {
	case rc > 0:
		return fmt.Sprintf("+%d", rc)
	case rc < 0:
		return fmt.Sprintf("%d", rc)
	default:
		return "±0"
	}
}

// RankDirection определяет направление изменения ранга.
type RankDirection string

const (
	// RankDirectionUp - поднялся в рейтинге.
	RankDirectionUp RankDirection = "up"
	// RankDirectionDown - опустился.
	RankDirectionDown RankDirection = "down"
	// RankDirectionStable - место не изменилось.
	RankDirectionStable RankDirection = "stable"
	// RankDirectionNew - впервые в рейтинге.
	RankDirectionNew RankDirection = "new"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK ASSIGNMENT
// ══════════════════════════════════════════════════════════════════════════════

// SortStandings сортирует по убыванию TotalPoints.
// При равных очках - по возрастанию EntityID, чтобы повторный расчёт давал тот же порядок.
func SortStandings(standings []Standing) {
	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].TotalPoints != standings[j].TotalPoints {
			return standings[i].TotalPoints > standings[j].TotalPoints
		}
		return standings[i].EntityID < standings[j].EntityID
	})
}

// AssignRanks присваивает ранги по схеме "1224": равные очки - одинаковый ранг,
// следующий ранг равен позиции в списке. [50,50,50,30,10] → [1,1,1,4,5].
// Ожидает список, отсортированный SortStandings.
func AssignRanks(standings []Standing) {
	for i := range standings {
		if i > 0 && standings[i].TotalPoints == standings[i-1].TotalPoints {
			standings[i].Rank = standings[i-1].Rank
			continue
		}
		standings[i].Rank = Rank(i + 1)
	}
}

// RankStandings сортирует и ранжирует за один вызов.
func RankStandings(standings []Standing) []Standing {
	SortStandings(standings)
	AssignRanks(standings)
	return standings
}
