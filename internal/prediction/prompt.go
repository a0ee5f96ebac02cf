package prediction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the analyst persona used when the caller does not
// supply one.
const DefaultSystemPrompt = `당신은 30년 동안 한국 경마를 분석해 온 전문가입니다.
주어진 경주 데이터를 바탕으로 출전마의 승률, 입상 가능성, 유력 조합을 예측합니다.

평가 기준:
- 최근 폼과 과거 성적
- 기수와 조교사의 기량 및 궁합
- 거리, 주로 상태, 날씨에 대한 적합성
- 게이트 위치와 경쟁 강도
- 배당률 추이와 인기 순위

응답은 반드시 JSON 형식으로만 작성하세요.`

const winTask = `아래 경주에서 각 출전마가 1위로 들어올 확률을 분석하세요.

경주 데이터:
%s

출력 형식:
{
  "predictions": [
    {"horse_id": 1, "win_probability": 0.35, "reasoning": "분석 근거"},
    {"horse_id": 2, "win_probability": 0.28, "reasoning": "분석 근거"}
  ],
  "confidence": 0.75,
  "overall_analysis": "종합 분석"
}`

const placeTask = `아래 경주에서 각 출전마가 3위 이내로 들어올 확률을 분석하세요.

경주 데이터:
%s

출력 형식:
{
  "predictions": [
    {"horse_id": 1, "place_probability": 0.65, "reasoning": "분석 근거"}
  ],
  "confidence": 0.75,
  "overall_analysis": "종합 분석"
}`

const combinationTask = `아래 경주에서 적중 가능성이 높은 조합 상위 5개를 추천하세요.

경주 데이터:
%s

예측 타입: %s
출력 형식:
{
  "combinations": [
    {
      "horses": [1, 3],
      "probability": 0.28,
      "expected_return": 8.5,
      "reasoning": "분석 근거"
    }
  ],
  "confidence": 0.70,
  "overall_analysis": "종합 분석"
}`

const genericTask = "경주 데이터를 분석하세요:\n%s"

// BuildPrompt joins the system block and the task block for kind.
func BuildPrompt(raceContext any, kind Kind, systemPrompt string) (string, error) {
	encoded, err := json.MarshalIndent(raceContext, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode race context: %w", err)
	}
	contextJSON := string(encoded)

	system := strings.TrimSpace(systemPrompt)
	if system == "" {
		system = DefaultSystemPrompt
	}

	var task string
	switch {
	case kind == KindWin:
		task = fmt.Sprintf(winTask, contextJSON)
	case kind == KindPlace:
		task = fmt.Sprintf(placeTask, contextJSON)
	case kind.IsCombination():
		task = fmt.Sprintf(combinationTask, contextJSON, kind)
	default:
		task = fmt.Sprintf(genericTask, contextJSON)
	}

	return system + "\n\n" + task, nil
}
