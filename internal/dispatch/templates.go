package dispatch

import (
	"strings"

	"github.com/foxzi/leadcast/internal/campaign"
)

// Static bodies used when content generation is unavailable or fails.
// {name} in the greeting is replaced with the lead's first name.
var personaTemplates = map[campaign.PersonaID]map[string]campaign.Body{
	campaign.PersonaProfessional: {
		"en": {
			Greeting:     "Hello {name},",
			Paragraph1:   "As a proactive professional, you understand the value of preventive healthcare in maintaining peak performance.",
			Paragraph2:   "Our advanced health screening packages use data-driven insights to identify potential health risks before they become problems. Stay ahead of health issues with our comprehensive diagnostic solutions tailored for busy professionals like you.",
			CallToAction: "View Your Personalized Health Plan",
			Closing:      "Invest in your health today for a more productive tomorrow.",
		},
		"hi": {
			Greeting:     "नमस्ते {name},",
			Paragraph1:   "एक सक्रिय पेशेवर के रूप में, आप शिखर प्रदर्शन बनाए रखने में निवारक स्वास्थ्य सेवा के मूल्य को समझते हैं।",
			Paragraph2:   "हमारे उन्नत स्वास्थ्य जांच पैकेज डेटा-संचालित अंतर्दृष्टि का उपयोग करके संभावित स्वास्थ्य जोखिमों की पहचान करते हैं। आपके जैसे व्यस्त पेशेवरों के लिए तैयार किए गए हमारे व्यापक नैदानिक समाधानों के साथ स्वास्थ्य समस्याओं से आगे रहें।",
			CallToAction: "अपनी व्यक्तिगत स्वास्थ्य योजना देखें",
			Closing:      "अधिक उत्पादक कल के लिए आज अपने स्वास्थ्य में निवेश करें।",
		},
	},
	campaign.PersonaTimePressed: {
		"en": {
			Greeting:     "Dear {name},",
			Paragraph1:   "We know how important your family's health is to you, and how little time you have to manage it all.",
			Paragraph2:   "Our family health screening packages are designed to identify hereditary risks and keep your loved ones healthy. Quick, convenient, and comprehensive, because your family deserves the best care without the hassle.",
			CallToAction: "Protect Your Family's Health",
			Closing:      "Your family's health is our priority.",
		},
		"hi": {
			Greeting:     "प्रिय {name},",
			Paragraph1:   "हम जानते हैं कि आपके परिवार का स्वास्थ्य आपके लिए कितना महत्वपूर्ण है, और इसे प्रबंधित करने के लिए आपके पास कितना कम समय है।",
			Paragraph2:   "हमारे पारिवारिक स्वास्थ्य जांच पैकेज वंशानुगत जोखिमों की पहचान करने और आपके प्रियजनों को स्वस्थ रखने के लिए डिज़ाइन किए गए हैं। त्वरित, सुविधाजनक और व्यापक, क्योंकि आपका परिवार बिना किसी परेशानी के सर्वोत्तम देखभाल का हकदार है।",
			CallToAction: "अपने परिवार के स्वास्थ्य की रक्षा करें",
			Closing:      "आपके परिवार का स्वास्थ्य हमारी प्राथमिकता है।",
		},
	},
	campaign.PersonaSenior: {
		"en": {
			Greeting:     "Respected {name},",
			Paragraph1:   "Your health experience matters. That's why our screening programs are developed by trusted medical professionals.",
			Paragraph2:   "With decades of expertise, our team of senior doctors provides thorough health assessments in a comfortable, traditional clinical setting. Get the expert care you deserve with personalized attention and clear medical guidance.",
			CallToAction: "Schedule Your Health Checkup",
			Closing:      "Your health is in trusted hands.",
		},
		"hi": {
			Greeting:     "आदरणीय {name},",
			Paragraph1:   "आपका स्वास्थ्य अनुभव मायने रखता है। इसीलिए हमारे स्क्रीनिंग कार्यक्रम विश्वसनीय चिकित्सा पेशेवरों द्वारा विकसित किए गए हैं।",
			Paragraph2:   "दशकों की विशेषज्ञता के साथ, हमारे वरिष्ठ डॉक्टरों की टीम एक आरामदायक, पारंपरिक नैदानिक सेटिंग में संपूर्ण स्वास्थ्य मूल्यांकन प्रदान करती है। व्यक्तिगत ध्यान और स्पष्ट चिकित्सा मार्गदर्शन के साथ वह विशेषज्ञ देखभाल प्राप्त करें जिसके आप हकदार हैं।",
			CallToAction: "अपना स्वास्थ्य चेकअप निर्धारित करें",
			Closing:      "आपका स्वास्थ्य विश्वसनीय हाथों में है।",
		},
	},
	campaign.PersonaStudent: {
		"en": {
			Greeting:     "Hi {name}!",
			Paragraph1:   "Taking care of your health doesn't have to break the bank. Join thousands of students who trust us for affordable preventive care.",
			Paragraph2:   "Our student-friendly health packages offer comprehensive screenings at prices that fit your budget. Plus, early detection means you can focus on your studies without health worries. Your peers are already taking charge of their health. Are you?",
			CallToAction: "Get Your Student Health Package",
			Closing:      "Healthy students, brighter futures!",
		},
		"hi": {
			Greeting:     "नमस्ते {name}!",
			Paragraph1:   "अपने स्वास्थ्य का ध्यान रखने के लिए आपका बैंक खाली नहीं होना चाहिए। किफायती निवारक देखभाल के लिए हम पर भरोसा करने वाले हजारों छात्रों में शामिल हों।",
			Paragraph2:   "हमारे छात्र-अनुकूल स्वास्थ्य पैकेज आपके बजट में फिट होने वाली कीमतों पर व्यापक जांच प्रदान करते हैं। साथ ही, प्रारंभिक पहचान का मतलब है कि आप स्वास्थ्य चिंताओं के बिना अपनी पढ़ाई पर ध्यान केंद्रित कर सकते हैं। आपके साथी पहले से ही अपने स्वास्थ्य की जिम्मेदारी ले रहे हैं। क्या आप भी?",
			CallToAction: "अपना छात्र स्वास्थ्य पैकेज प्राप्त करें",
			Closing:      "स्वस्थ छात्र, उज्जवल भविष्य!",
		},
	},
	campaign.PersonaRisk: {
		"en": {
			Greeting:     "Hello {name},",
			Paragraph1:   "We understand. Life gets busy and health checkups get postponed. But waiting could mean missing early warning signs.",
			Paragraph2:   "Our convenient screening packages make it easy to finally take that important step. No lengthy appointments, no complex processes, just straightforward health assessments that could make all the difference. The best time to start was yesterday, the second best time is today.",
			CallToAction: "Book Your Health Assessment Now",
			Closing:      "Small step today, healthier tomorrow.",
		},
		"hi": {
			Greeting:     "नमस्ते {name},",
			Paragraph1:   "हम समझते हैं। जीवन व्यस्त हो जाता है और स्वास्थ्य जांच स्थगित हो जाती है। लेकिन प्रतीक्षा करने का मतलब प्रारंभिक चेतावनी संकेतों को चूकना हो सकता है।",
			Paragraph2:   "हमारे सुविधाजनक स्क्रीनिंग पैकेज अंततः उस महत्वपूर्ण कदम को उठाना आसान बनाते हैं। कोई लंबी नियुक्तियां नहीं, कोई जटिल प्रक्रियाएं नहीं, बस सरल स्वास्थ्य मूल्यांकन जो सभी फर्क कर सकते हैं। शुरू करने का सबसे अच्छा समय कल था, दूसरा सबसे अच्छा समय आज है।",
			CallToAction: "अभी अपना स्वास्थ्य मूल्यांकन बुक करें",
			Closing:      "आज छोटा कदम, कल स्वस्थ।",
		},
	},
	campaign.PersonaPrice: {
		"en": {
			Greeting:     "Hi {name},",
			Paragraph1:   "Limited Time Offer: Get premium health screening at unbeatable prices!",
			Paragraph2:   "Why pay more when you can get comprehensive health checkups at discounted rates? Our special promotional packages include all essential tests at prices you won't find anywhere else. Don't miss out on this opportunity to prioritize your health while saving money.",
			CallToAction: "Claim Your Special Discount",
			Closing:      "Quality healthcare at prices that make sense!",
		},
		"hi": {
			Greeting:     "नमस्ते {name},",
			Paragraph1:   "सीमित समय की पेशकश: अप्रतिम कीमतों पर प्रीमियम स्वास्थ्य जांच प्राप्त करें!",
			Paragraph2:   "अधिक क्यों भुगतान करें जब आप रियायती दरों पर व्यापक स्वास्थ्य जांच प्राप्त कर सकते हैं? हमारे विशेष प्रचार पैकेज में उन कीमतों पर सभी आवश्यक परीक्षण शामिल हैं जो आपको कहीं और नहीं मिलेंगे। पैसे बचाते हुए अपने स्वास्थ्य को प्राथमिकता देने के इस अवसर को न चूकें।",
			CallToAction: "अपनी विशेष छूट का दावा करें",
			Closing:      "समझदारी भरी कीमतों पर गुणवत्तापूर्ण स्वास्थ्य सेवा!",
		},
	},
}

// TemplateBody returns the static body for a persona and language. Unknown
// personas use the professional template, unknown languages use English.
func TemplateBody(persona campaign.PersonaID, lang, name string) campaign.Body {
	byLang, ok := personaTemplates[persona]
	if !ok {
		byLang = personaTemplates[campaign.DefaultPersona]
	}
	body, ok := byLang[lang]
	if !ok {
		body = byLang["en"]
	}
	body.Greeting = strings.Replace(body.Greeting, "{name}", name, 1)
	return body
}
