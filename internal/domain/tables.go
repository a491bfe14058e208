package domain

// StaticTables holds the immutable keyword/topic lookup data the
// understanding and expansion layers run on. Loaded once at startup;
// tests substitute small fixtures.
type StaticTables struct {
	// TagSentences maps a tag to a representative sentence whose embedding
	// stands in for the tag during semantic fallback inference.
	TagSentences map[string]string `yaml:"tag_sentences"`
	// KeywordTags maps a query substring to the tags it implies.
	KeywordTags map[string][]string `yaml:"keyword_tags"`
	// TopicExpansions maps a topic keyword to related search terms.
	TopicExpansions map[string][]string `yaml:"topic_expansions"`
	// SearchIntentKeywords are phrases signalling the user names a book.
	SearchIntentKeywords []string `yaml:"search_intent_keywords"`
	// VagueReferents are phrases stripped during expansion ("that one").
	VagueReferents []string `yaml:"vague_referents"`
}

// DefaultTables returns the built-in lookup data for the production catalog.
func DefaultTables() StaticTables {
	return StaticTables{
		TagSentences: map[string]string{
			"科幻":   "描寫未來科技、太空探索與人工智慧的科幻小說",
			"奇幻":   "充滿魔法、異世界冒險與史詩戰爭的奇幻文學",
			"歷史":   "講述朝代興衰、歷史人物與文化變遷的歷史書籍",
			"推理":   "懸疑燒腦、偵探辦案與犯罪解謎的推理小說",
			"文學":   "經典名著與當代純文學作品",
			"心理學":  "探討人類心理、行為與自我成長的心理學書籍",
			"投資理財": "股票、基金與個人理財的金融投資書籍",
			"商業":   "創業、管理與商業策略的書籍",
			"科普":   "面向大眾讀者的科學知識與自然科普讀物",
			"物理":   "關於宇宙、時間、相對論與量子力學的物理書籍",
			"料理":   "食譜、烹飪技巧與美食文化的書籍",
			"藝術":   "繪畫、設計與美學的藝術書籍",
		},
		KeywordTags: map[string][]string{
			"科幻":   {"科幻", "小說"},
			"太空":   {"科幻", "科普"},
			"機器人":  {"科幻", "人工智慧"},
			"人工智慧": {"人工智慧", "科技"},
			"AI":   {"人工智慧", "科技"},
			"奇幻":   {"奇幻", "小說"},
			"魔法":   {"奇幻"},
			"歷史":   {"歷史"},
			"三國":   {"歷史", "中國"},
			"推理":   {"推理", "小說"},
			"偵探":   {"推理"},
			"懸疑":   {"推理", "懸疑"},
			"心理":   {"心理學"},
			"成長":   {"自我成長", "心理學"},
			"投資":   {"投資理財", "金融"},
			"理財":   {"投資理財"},
			"股票":   {"投資理財", "股票"},
			"創業":   {"商業", "創業"},
			"管理":   {"商業", "管理"},
			"物理":   {"物理", "科普"},
			"量子":   {"物理", "量子計算"},
			"宇宙":   {"物理", "宇宙", "科普"},
			"料理":   {"料理", "美食"},
			"美食":   {"料理", "美食"},
			"食譜":   {"料理", "食譜"},
			"設計":   {"設計", "藝術"},
			"藝術":   {"藝術"},
			"愛情":   {"愛情", "小說"},
			"文學":   {"文學"},
		},
		TopicExpansions: map[string][]string{
			"時間": {"物理", "宇宙", "相對論", "時間簡史", "宇宙學"},
			"宇宙": {"物理", "天文", "宇宙學", "星空"},
			"愛情": {"愛情小說", "浪漫", "言情"},
			"戰爭": {"歷史", "軍事", "戰略"},
			"金錢": {"投資理財", "金融", "經濟"},
			"美食": {"料理", "食譜", "烹飪"},
			"未來": {"科幻", "科技", "人工智慧"},
			"人生": {"心理學", "自我成長", "哲學"},
			"孤獨": {"文學", "心理學", "散文"},
			"死亡": {"哲學", "文學", "生命"},
		},
		SearchIntentKeywords: []string{
			"找", "搜尋", "搜索", "書名", "叫做", "叫什麼", "那本叫", "這本書",
		},
		VagueReferents: []string{
			"那本", "那個", "那部", "有一本", "之前看過", "忘記名字",
		},
	}
}
