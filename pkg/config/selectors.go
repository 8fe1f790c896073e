package config

// SelectorConfig is the data-driven inventory of target-site selectors.
// Wherever several selectors are listed, they are ordered capability probes:
// the browser layer tries each in order and acts on the first visible match.
type SelectorConfig struct {
	// Login flow
	LoginButton     string `yaml:"login_button"`
	QRSwitchButton  string `yaml:"qr_switch_button"`
	QRImage         string `yaml:"qr_image"`
	QRRefreshButton string `yaml:"qr_refresh_button"`

	// LoginPageURLPart identifies the login page by URL substring
	LoginPageURLPart string `yaml:"login_page_url_part"`

	// AuthedURLParts identify post-login pages by URL substring
	AuthedURLParts []string `yaml:"authed_url_parts"`

	// IdentityAPI is fetched in-page to validate the session and read the
	// signed-in identity
	IdentityAPI string `yaml:"identity_api"`

	// Candidate feed
	FeedFrameName string `yaml:"feed_frame_name"`
	CardList      string `yaml:"card_list"`
	CardName      string `yaml:"card_name"`

	// CardPosition holds the row whose direct text nodes are the candidate's
	// city followed by their declared position
	CardPosition string `yaml:"card_position"`

	DetailPanel string `yaml:"detail_panel"`

	// GreetButtons are probed in order for the send control inside the
	// detail panel
	GreetButtons []string `yaml:"greet_buttons"`

	// CloseButtons are probed in order to close the detail panel
	CloseButtons []string `yaml:"close_buttons"`

	// AlreadyContactedLabel on the send control means a conversation exists
	AlreadyContactedLabel string `yaml:"already_contacted_label"`

	// ChatInput and SendMessageButton appear when greeting opens an inline
	// chat box that takes a custom message
	ChatInput         string `yaml:"chat_input"`
	SendMessageButton string `yaml:"send_message_button"`

	// Block/limit detection
	BlockDialogs       []string `yaml:"block_dialogs"`
	BlockActionMarkers []string `yaml:"block_action_markers"`
	BlockLimitMarkers  []string `yaml:"block_limit_markers"`
	BlockKeywords      []string `yaml:"block_keywords"`
	LimitPagePhrases   []string `yaml:"limit_page_phrases"`

	// Interstitials flag transient verification overlays that are distinct
	// from the rate-limit signal
	Interstitials []string `yaml:"interstitials"`
}

// DefaultSelectors returns the selector inventory for the supported site as
// last observed. These rot as the site ships UI changes; patch the config
// file, not the code.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		LoginButton:      "#header > div.inner.home-inner > div.user-nav > div > a",
		QRSwitchButton:   "#wrap > div > div.login-entry-page > div.login-register-content > div.btn-sign-switch.ewm-switch",
		QRImage:          "#wrap > div > div.login-entry-page > div.login-register-content > div.scan-app-wrapper > div.qr-code-box > div.qr-img-box > img",
		QRRefreshButton:  "#wrap > div > div.login-entry-page > div.login-register-content > div.scan-app-wrapper > div.qr-code-box > div.qr-img-box > div > button",
		LoginPageURLPart: "/web/user/",
		AuthedURLParts:   []string{"/web/chat/", "/web/boss/"},
		IdentityAPI:      "https://www.zhipin.com/wapi/zpuser/wap/getUserInfo.json",

		FeedFrameName: "recommendFrame",
		CardList:      "ul.card-list > li",
		CardName:      ".name",
		CardPosition:  ".row-flex .content .join-text-wrap",
		DetailPanel:   ".dialog-lib-resume",

		GreetButtons: []string{
			".dialog-lib-resume .button-list-wrap button",
			".dialog-lib-resume .communication button",
			".resume-right-side .communication button",
		},
		CloseButtons: []string{
			".dialog-lib-resume .close-icon",
			".dialog-lib-resume .boss-popup__close",
			"button.boss-popup__close",
		},
		AlreadyContactedLabel: "继续沟通",
		ChatInput:             ".chat-input",
		SendMessageButton:     ".send-btn",

		BlockDialogs: []string{
			".business-block-dialog",
			".business-block-wrap",
			"[class*=\"business-block\"]",
		},
		BlockActionMarkers: []string{"主动沟通"},
		BlockLimitMarkers:  []string{"上限", "限制"},
		BlockKeywords:      []string{"主动沟通", "上限", "达上限", "需付费"},
		LimitPagePhrases: []string{
			"账号异常",
			"操作频繁",
			"暂时无法使用",
			"请稍后再试",
			"账号被限制",
			"系统繁忙",
		},

		Interstitials: []string{
			".geetest_",
			".nc_",
			".captcha",
			"#captcha",
			"[class*=\"verify\"]",
			"[id*=\"verify\"]",
		},
	}
}
