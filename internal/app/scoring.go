package app

import (
	"math"

	"quizrevise/internal/domain"
)

// ComputeScore returns round(100 * correct / total). A question counts as
// correct only when the submitted key equals the stored key exactly.
func ComputeScore(questions []domain.Question, answers map[string]string) int {
	if len(questions) == 0 {
		return 0
	}
	correct := 0
	for _, q := range questions {
		if given, ok := answers[q.ID]; ok && given == q.CorrectKey {
			correct++
		}
	}
	return int(math.Round(100 * float64(correct) / float64(len(questions))))
}

func validScore(score int) error {
	if score < 0 || score > 100 {
		return domain.Validationf("score %d outside [0,100]", score)
	}
	return nil
}
