// Package e2e provides end-to-end tests with a realistic lost-item corpus
// and multiple query test cases.
package e2e

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bunsilmul/chaja/internal/models"
)

// E2EItem is a catalog entry in the E2E corpus.
type E2EItem struct {
	ExternalID  int64
	Name        string
	Description string
	Brand       string
	// Topic decides the embedding the corpus gateway assigns; items and
	// queries about the same kind of object share a topic.
	Topic string
}

// QueryTestCase defines a query and the item id(s) that must appear in the
// search results.
type QueryTestCase struct {
	Query       string
	ExpectedIDs []int64
	Description string
}

// Corpus holds items and query test cases for E2E tests.
type Corpus struct {
	Items        []E2EItem
	TestCases    []QueryTestCase
	TotalItems   int
	TotalQueries int
}

// corpusTopics maps a topic to the token that identifies it in item and
// query text. Order fixes the basis vector each topic embeds to.
var corpusTopics = []struct {
	name  string
	token string
}{
	{"wallet", "지갑"},
	{"umbrella", "우산"},
	{"earbuds", "이어폰"},
	{"phone", "휴대폰"},
	{"bag", "가방"},
	{"watch", "시계"},
	{"tumbler", "텀블러"},
	{"card", "카드"},
}

// BuildCorpus returns a corpus of lost items across several object topics,
// with query test cases asserting which items each query must surface.
func BuildCorpus() *Corpus {
	items := []E2EItem{
		{1, "검정 지갑", "검정색 가죽 반지갑, 카드 수납 칸 있음", "", "wallet"},
		{2, "갈색 지갑", "갈색 장지갑, 지퍼 손상", "", "wallet"},
		{3, "빨간 지갑", "빨간색 동전 지갑", "", "wallet"},
		{4, "파란 우산", "파란색 장우산, 손잡이 나무", "", "umbrella"},
		{5, "검정 우산", "검정색 접이식 우산", "", "umbrella"},
		{6, "에어팟 프로", "흰색 무선 이어폰, 케이스 포함", "애플", "earbuds"},
		{7, "버즈 이어폰", "보라색 무선 이어폰", "삼성", "earbuds"},
		{8, "아이폰", "검정색 휴대폰, 액정 금 감", "애플", "phone"},
		{9, "갤럭시 휴대폰", "흰색 휴대폰, 투명 케이스", "삼성", "phone"},
		{10, "검정 백팩", "검정색 가방, 노트북 수납", "", "bag"},
		{11, "줄무늬 에코백", "줄무늬 천 가방", "", "bag"},
		{12, "은색 손목시계", "은색 메탈 시계", "", "watch"},
		{13, "스테인리스 텀블러", "은색 텀블러, 뚜껑 없음", "", "tumbler"},
		{14, "체크카드", "은행 체크 카드", "", "card"},
	}
	cases := []QueryTestCase{
		{"검정 지갑", []int64{1}, "color plus object finds the matching wallet"},
		{"가죽 반지갑 잃어버림", []int64{1, 2}, "descriptive wallet query"},
		{"파란색 우산", []int64{4}, "blue umbrella"},
		{"애플 이어폰", []int64{6}, "brand narrows earbuds"},
		{"무선 이어폰", []int64{6, 7}, "generic earbuds query"},
		{"흰색 휴대폰", []int64{9}, "white phone"},
		{"노트북 가방", []int64{10}, "backpack by contents"},
		{"은색 시계", []int64{12}, "silver watch"},
		{"텀블러", []int64{13}, "single token object"},
		{"체크 카드", []int64{14}, "bank card"},
	}
	return &Corpus{
		Items:        items,
		TestCases:    cases,
		TotalItems:   len(items),
		TotalQueries: len(cases),
	}
}

// ToRegisterInputs converts the corpus to registration inputs.
func (c *Corpus) ToRegisterInputs() []*models.RegisterInput {
	inputs := make([]*models.RegisterInput, 0, len(c.Items))
	for _, item := range c.Items {
		inputs = append(inputs, &models.RegisterInput{
			ExternalID:  item.ExternalID,
			Name:        item.Name,
			Description: item.Description,
			Brand:       item.Brand,
		})
	}
	return inputs
}

// TopicGateway is an embedding gateway that maps every text onto the basis
// vector of the object topic its tokens mention, so that items and queries
// about the same kind of object embed close together. Texts mentioning no
// known topic get a vector orthogonal to all topics.
type TopicGateway struct {
	dim int
}

// NewTopicGateway returns a gateway with one dimension per topic plus one
// off-topic dimension.
func NewTopicGateway() *TopicGateway {
	return &TopicGateway{dim: len(corpusTopics) + 1}
}

// Embed maps text to its topic basis vector.
func (g *TopicGateway) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty input")
	}
	vec := make([]float32, g.dim)
	for i, topic := range corpusTopics {
		if strings.Contains(text, topic.token) {
			vec[i] = 1
			normalize(vec)
			return vec, nil
		}
	}
	// Off-topic axis keeps unrelated texts orthogonal to every topic.
	vec[g.dim-1] = 1
	return vec, nil
}

// Caption returns a fixed description; image flows are not under test here.
func (g *TopicGateway) Caption(_ context.Context, _ []byte) (string, error) {
	return "사진 속 물건", nil
}

// Dimensions returns the vector size.
func (g *TopicGateway) Dimensions() int { return g.dim }

// Close is a no-op.
func (g *TopicGateway) Close() error { return nil }

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
