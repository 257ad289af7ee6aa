package reconcile

import (
	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// MatchPair couples a left-side record with its primary right-side
// counterpart (first-encountered right record for the shared MatchKey).
type MatchPair struct {
	Key   string
	Left  models.Record
	Right models.Record
}

// MatchResult partitions two record collections by MatchKey. Duplicate
// groups are first-class output: when more than one record on a side shares
// a key, every member of that side's group is reported, never silently
// collapsed to one.
type MatchResult struct {
	Matched    []MatchPair
	OnlyLeft   []models.Record
	OnlyRight  []models.Record
	Duplicates map[string][]models.Record
}

// MatchRecords pairs two collections via hashed MatchKeys in O(n+m).
// Records that normalize to an empty key never match anything; they land in
// the respective Only bucket.
func MatchRecords(left []models.Record, right []models.Record, delimiter string) MatchResult {
	result := MatchResult{
		Duplicates: map[string][]models.Record{},
	}

	rightByKey := make(map[string][]models.Record, len(right))
	rightOrder := make([]string, 0, len(right))
	for _, rec := range right {
		key := NormalizeKeyWithDelimiter(rec.DisplayName(), delimiter)
		if key == "" {
			result.OnlyRight = append(result.OnlyRight, rec)
			continue
		}
		if _, seen := rightByKey[key]; !seen {
			rightOrder = append(rightOrder, key)
		}
		rightByKey[key] = append(rightByKey[key], rec)
	}

	leftByKey := make(map[string][]models.Record, len(left))
	matchedKeys := make(map[string]bool, len(left))
	for _, rec := range left {
		key := NormalizeKeyWithDelimiter(rec.DisplayName(), delimiter)
		if key == "" {
			result.OnlyLeft = append(result.OnlyLeft, rec)
			continue
		}
		leftByKey[key] = append(leftByKey[key], rec)

		group, ok := rightByKey[key]
		if !ok {
			result.OnlyLeft = append(result.OnlyLeft, rec)
			continue
		}
		matchedKeys[key] = true
		result.Matched = append(result.Matched, MatchPair{
			Key:   key,
			Left:  rec,
			Right: group[0],
		})
	}

	for _, key := range rightOrder {
		if !matchedKeys[key] {
			result.OnlyRight = append(result.OnlyRight, rightByKey[key]...)
		}
	}

	for key, group := range leftByKey {
		if len(group) > 1 {
			result.Duplicates[key] = append(result.Duplicates[key], group...)
		}
	}
	for key, group := range rightByKey {
		if len(group) > 1 {
			result.Duplicates[key] = append(result.Duplicates[key], group...)
		}
	}

	return result
}

// DuplicateGroup returns the duplicate group for a key, nil when the key has
// no duplicates on either side.
func (r MatchResult) DuplicateGroup(key string) []models.Record {
	return r.Duplicates[key]
}
