package normalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/web3money/portal/internal/domain"
)

// Header variants seen in the application form over time, most specific
// first. The camelCase key at the end of each list is the backend's own
// field name.
var (
	nameKeys = []string{
		"お名前（ニックネーム可）",
		"おなまえニックネーム可",
		"お名前",
		"氏名",
		"name",
		"名前",
	}
	reasonKeys = []string{
		"支援金使用用途（できるだけ簡潔に記載ください）",
		"支援金使用用途できるだけ簡潔に記載ください",
		"用途",
		"支援理由",
		"理由",
		"支援内容",
		"reason",
	}
	amountKeys = []string{
		"出資希望額",
		"希望金額",
		"希望額",
		"支援金額",
		"金額",
		"amount",
	}
	snsKeys = []string{
		"SNSアカウントについて",
		"snsアカウントについて",
		"SNS",
		"sns",
	}
	detailedReasonKeys = []string{
		"支援金使用用途についてできるだけ詳細にご記載ください（50,000文字以内）",
		"支援金使用用途についてできるだけ詳細にご記載ください50000文字以内",
		"詳細用途",
		"detailedReason",
	}
	thoughtsKeys = []string{
		"最後にあなたが今回の応募にかける想いをお好きなだけ記載ください。（50,000文字以内）",
		"最後にあなたが今回の応募にかける想いをお好きなだけ記載ください50000文字以内",
		"想い",
		"thoughts",
	}
	timestampKeys = []string{
		"タイムスタンプ",
		"timestamp",
	}

	nameFragments = []string{"名前", "ニックネーム"}
)

// Applicant maps a raw spreadsheet row to an Applicant. It never fails:
// unresolved text fields are empty, an unresolved name becomes 申請者{rank}
// and an unresolved id becomes readonly_{rank-1}. rank is the applicant's
// 1-based position in the displayed list.
func Applicant(row Row, rank int) domain.Applicant {
	used := make(map[string]bool)
	pick := func(candidates []string) string {
		key, value := firstNonEmpty(row, candidates)
		if key != "" {
			used[key] = true
		}
		return value
	}

	a := domain.Applicant{
		ID:             pick([]string{"id"}),
		CampaignID:     pick([]string{"campaignId"}),
		Name:           pick(nameKeys),
		Reason:         pick(reasonKeys),
		SNS:            pick(snsKeys),
		DetailedReason: pick(detailedReasonKeys),
		Thoughts:       pick(thoughtsKeys),
		Timestamp:      pick(timestampKeys),
	}
	a.Amount = Amount(pick(amountKeys))

	if a.Name == "" {
		if key, value := nameByFragment(row); key != "" {
			used[key] = true
			a.Name = value
		}
	}
	if a.Name == "" {
		a.Name = fmt.Sprintf("申請者%d", rank)
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("readonly_%d", rank-1)
	}

	counts := []struct {
		key string
		dst *int
	}{
		{"voteCount", &a.VoteCount},
		{"basicVoteCount", &a.BasicVoteCount},
		{"premiumVoteCount", &a.PremiumVoteCount},
		{"youtubeOptInCount", &a.YouTubeOptInCount},
	}
	for _, c := range counts {
		if _, ok := row.Get(c.key); ok {
			used[c.key] = true
			*c.dst = int(number(row, c.key))
		}
	}
	if _, ok := row.Get("weightedVoteScore"); ok {
		used["weightedVoteScore"] = true
		a.WeightedVoteScore = number(row, "weightedVoteScore")
	}

	for _, key := range row.Keys() {
		if used[key] {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		v, _ := row.Get(key)
		a.Extra[key] = v
	}
	return a
}

// Ranked orders rows by vote count, highest first, keeping the received order
// for ties, and normalizes each with its display rank.
func Ranked(rows []Row) []domain.Applicant {
	order := make([]int, len(rows))
	votes := make([]float64, len(rows))
	for i, row := range rows {
		order[i] = i
		votes[i] = number(row, "voteCount")
	}
	sort.SliceStable(order, func(i, j int) bool {
		return votes[order[i]] > votes[order[j]]
	})

	applicants := make([]domain.Applicant, 0, len(rows))
	for pos, idx := range order {
		applicants = append(applicants, Applicant(rows[idx], pos+1))
	}
	return applicants
}

// SortByVotes orders already normalized applicants by vote count, highest
// first, keeping the existing order for ties.
func SortByVotes(applicants []domain.Applicant) {
	sort.SliceStable(applicants, func(i, j int) bool {
		return applicants[i].VoteCount > applicants[j].VoteCount
	})
}

func firstNonEmpty(row Row, candidates []string) (string, string) {
	for _, key := range candidates {
		if v := row.String(key); v != "" {
			return key, v
		}
	}
	return "", ""
}

func nameByFragment(row Row) (string, string) {
	for _, key := range row.Keys() {
		if !isNameKey(key) {
			continue
		}
		if v := row.String(key); v != "" {
			return key, v
		}
	}
	return "", ""
}

func isNameKey(key string) bool {
	for _, frag := range nameFragments {
		if strings.Contains(key, frag) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(key), "name")
}

func number(row Row, key string) float64 {
	s := row.String(key)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
