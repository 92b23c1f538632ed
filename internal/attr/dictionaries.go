package attr

// entry maps a canonical attribute value to its known surface variants.
// Entries are ordered so extraction output is deterministic.
type entry struct {
	canonical string
	variants  []string
}

// colorDict covers Korean color vocabulary including clipped forms ("검", "흰")
// and loanwords ("블랙").
var colorDict = []entry{
	{"검은색", []string{"검은색", "검정", "검정색", "블랙", "검"}},
	{"흰색", []string{"흰색", "하양", "하얀색", "화이트", "흰"}},
	{"빨간색", []string{"빨간색", "빨강", "빨강색", "레드", "빨"}},
	{"파란색", []string{"파란색", "파랑", "파랑색", "블루", "파"}},
	{"노란색", []string{"노란색", "노랑", "노랑색", "옐로우", "노"}},
	{"초록색", []string{"초록색", "초록", "녹색", "그린", "초"}},
	{"회색", []string{"회색", "그레이", "회"}},
	{"베이지색", []string{"베이지색", "베이지"}},
	{"갈색", []string{"갈색", "브라운", "갈"}},
	{"분홍색", []string{"분홍색", "핑크", "분홍"}},
	{"주황색", []string{"주황색", "오렌지", "주황"}},
	{"보라색", []string{"보라색", "퍼플", "보라"}},
}

var patternDict = []entry{
	{"체크", []string{"체크", "체크무늬", "체크패턴"}},
	{"스트라이프", []string{"스트라이프", "줄무늬", "줄", "세로줄", "가로줄"}},
	{"도트", []string{"도트", "점무늬", "점"}},
	{"플라워", []string{"플라워", "꽃무늬", "꽃"}},
	{"레인보우", []string{"레인보우", "무지개"}},
	{"솔리드", []string{"솔리드", "무늬없음", "단색"}},
}

// brandDict variants are matched as whole tokens, not substrings, so that
// e.g. "lv" does not fire inside an unrelated word.
var brandDict = []entry{
	{"나이키", []string{"나이키", "니케", "nike"}},
	{"아디다스", []string{"아디다스", "아디", "adidas"}},
	{"샘소나이트", []string{"샘소나이트", "samsonite"}},
	{"구찌", []string{"구찌", "gucci"}},
	{"프라다", []string{"프라다", "prada"}},
	{"루이비통", []string{"루이비통", "lv", "louis vuitton"}},
	{"아이폰", []string{"아이폰", "iphone", "애플", "apple"}},
	{"갤럭시", []string{"갤럭시", "galaxy", "삼성", "samsung"}},
}

// contextTerms are location/situational words carried alongside keywords.
var contextTerms = []string{
	"지하철", "지하철역", "역", "기차", "버스", "택시",
	"강남역", "홍대", "명동", "신촌",
	"카페", "식당", "학교", "회사", "도서관",
	"잃어버린", "잃은", "분실한", "찾는", "찾고있는",
}

// stopwords are Korean particles, case endings, and generic lost-and-found
// verbs that carry no discriminating signal as keywords.
var stopwords = map[string]struct{}{
	"에서": {}, "을": {}, "를": {}, "이": {}, "가": {}, "의": {}, "에": {},
	"와": {}, "과": {}, "로": {}, "으로": {},
	"은": {}, "는": {}, "도": {}, "만": {}, "까지": {}, "부터": {},
	"에게": {}, "께": {}, "한테": {},
	"잃어버린": {}, "잃은": {}, "분실한": {}, "찾는": {}, "찾고있는": {},
	"찾고": {}, "찾아": {},
	"발견한": {}, "발견": {}, "습득한": {}, "습득": {}, "주운": {}, "주웠": {},
}
