package content

// appleStoreFlex is the Apple shop menu, kept byte-for-byte in the structure
// the platform expects.
const appleStoreFlex = `{
  "type": "bubble",
  "hero": {
    "type": "image",
    "url": "https://help.apple.com/assets/67E1D466D1A1E142910B49DB/67E1D46AE03ADF0486097DE7/zh_TW/cfef5ce601689564e0a39b4773f20815.png",
    "size": "full",
    "aspectRatio": "20:13",
    "aspectMode": "cover"
  },
  "body": {
    "type": "box",
    "layout": "vertical",
    "backgroundColor": "#FFFFFF",
    "contents": [
      {
        "type": "text",
        "text": "Apple Store",
        "weight": "bold",
        "size": "xl",
        "align": "center"
      },
      {
        "type": "text",
        "text": "立即探索最新 Apple 產品",
        "size": "sm",
        "color": "#888888",
        "wrap": true,
        "align": "center"
      }
    ]
  },
  "footer": {
    "type": "box",
    "layout": "vertical",
    "spacing": "sm",
    "contents": [
      {
        "type": "button",
        "style": "primary",
        "color": "#000000",
        "action": {
          "type": "uri",
          "label": "前往 Apple 官網",
          "uri": "https://www.apple.com/tw/"
        }
      },
      {
        "type": "button",
        "style": "secondary",
        "action": {
          "type": "uri",
          "label": "探索 Mac 系列",
          "uri": "https://www.apple.com/tw/mac/"
        }
      }
    ]
  }
}`

// builtins returns the payload definitions compiled into the binary.
// A YAML content directory can override any of them by name.
func builtins() []Definition {
	return []Definition{
		{
			Name:    "apple_store",
			AltText: "Apple 商店選單",
			Flex:    appleStoreFlex,
		},
		{
			Name: "main_menu",
			Text: "想做什麼呢？",
			QuickReplies: []QuickReplyDef{
				{Label: "翻譯", Text: "選擇輸入語言"},
				{Label: "天氣", Text: "天氣 台北"},
				{Label: "匯率", Text: "匯率"},
				{Label: "行程建議", Text: "行程"},
				{Label: "景點推薦", Text: "景點"},
			},
		},
	}
}
