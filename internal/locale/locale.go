// Package locale holds the supported interface languages and every
// user-facing string the bot sends.
package locale

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

const (
	Arabic  = "ar"
	English = "en"
	French  = "fr"
)

// Supported lists language codes in keyboard order.
var Supported = []string{Arabic, English, French}

var labels = map[string]string{
	Arabic:  "العربية 🇸🇦",
	English: "English 🇺🇸",
	French:  "Français 🇫🇷",
}

func IsSupported(code string) bool {
	_, ok := labels[code]
	return ok
}

// Normalize maps a loosely formatted tag ("FR", "fr-CA", "en_US") to a
// supported code.
func Normalize(code string) (string, bool) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return "", false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	if !IsSupported(base.String()) {
		return "", false
	}
	return base.String(), true
}

// Label is the keyboard caption for a language.
func Label(code string) string {
	if label, ok := labels[code]; ok {
		return label
	}
	return code
}

type Key string

const (
	Welcome             Key = "welcome"
	Help                Key = "help"
	Analyzing           Key = "analyzing"
	ProductFound        Key = "product_found"
	BuyButton           Key = "buy_button"
	DeveloperButton     Key = "developer_button"
	NotIdentified       Key = "not_identified"
	GenericError        Key = "generic_error"
	StorageError        Key = "storage_error"
	LanguageSaved       Key = "language_saved"
	UnsupportedLanguage Key = "unsupported_language"
	UnknownCommand      Key = "unknown_command"
	EmptyPhoto          Key = "empty_photo"
)

var catalogue = map[string]map[Key]string{
	Arabic: {
		Welcome:             "🛍️ <b>مرحباً بك في مساعد التسوق الذكي!</b>\n\nأرسل صورة منتج أو اسمه، وسأعطيك رابط أمازون فوراً.\n\nاختر لغتك:",
		Help:                "أرسل صورة أو اكتب اسم المنتج وسيتم إنشاء رابط أمازون تلقائياً.\n\n/start - اختيار اللغة\n/help - المساعدة",
		Analyzing:           "🔍 جاري تحليل الصورة بالذكاء الاصطناعي...",
		ProductFound:        "✅ <b>تم العثور على المنتج!</b>\n📦 <b>المنتج:</b> <code>%s</code>\n📍 <b>المتجر:</b> <code>%s</code>",
		BuyButton:           "اشتري الآن من أمازون 🛒",
		DeveloperButton:     "تواصل مع المطور 👨‍💻",
		NotIdentified:       "❌ عذراً، لم أستطع تحديد المنتج. جرب صورة أوضح أو اكتب اسم المنتج نصياً.",
		GenericError:        "⚠️ حدث خطأ أثناء معالجة طلبك. حاول مرة أخرى.",
		StorageError:        "⚠️ تعذر الوصول إلى إعداداتك الآن. حاول مرة أخرى بعد قليل.",
		LanguageSaved:       "✅ تم ضبط اللغة للعربية. الآن أرسل صورة أو اسم المنتج.",
		UnsupportedLanguage: "❌ هذه اللغة غير مدعومة.",
		UnknownCommand:      "أمر غير معروف. استخدم /help لعرض المساعدة.",
		EmptyPhoto:          "❌ لم أجد صورة في رسالتك. أرسل صورة المنتج أو اكتب اسمه.",
	},
	English: {
		Welcome:             "🛍️ <b>Welcome to Smart Shopping Assistant!</b>\n\nSend a product photo or name for an Amazon link.\n\nChoose your language:",
		Help:                "Send a photo or type a product name and I'll return an Amazon search link.\n\n/start - choose language\n/help - show this help",
		Analyzing:           "🔍 AI is analyzing the image...",
		ProductFound:        "✅ <b>Product found!</b>\n📦 <b>Product:</b> <code>%s</code>\n📍 <b>Store:</b> <code>%s</code>",
		BuyButton:           "Buy on Amazon 🛒",
		DeveloperButton:     "Contact Developer 👨‍💻",
		NotIdentified:       "❌ Identification failed. Try a clearer photo or type the product name.",
		GenericError:        "⚠️ Something went wrong while handling your request. Please try again.",
		StorageError:        "⚠️ Your settings are unavailable right now. Please try again shortly.",
		LanguageSaved:       "✅ English language selected. Now send a product photo or name.",
		UnsupportedLanguage: "❌ This language is not supported.",
		UnknownCommand:      "Unknown command. Use /help to see what I can do.",
		EmptyPhoto:          "❌ No photo found in your message. Send a product photo or type its name.",
	},
	French: {
		Welcome:             "🛍️ <b>Bienvenue sur l'Assistant Shopping !</b>\n\nEnvoyez une photo ou le nom d'un produit.\n\nChoisissez votre langue :",
		Help:                "Envoyez une photo ou tapez le nom d'un produit et je vous renverrai un lien de recherche Amazon.\n\n/start - choisir la langue\n/help - afficher l'aide",
		Analyzing:           "🔍 L'IA analyse l'image...",
		ProductFound:        "✅ <b>Produit trouvé !</b>\n📦 <b>Produit :</b> <code>%s</code>\n📍 <b>Boutique :</b> <code>%s</code>",
		BuyButton:           "Acheter sur Amazon 🛒",
		DeveloperButton:     "Contacter le développeur 👨‍💻",
		NotIdentified:       "❌ Échec. Essayez une photo plus claire ou tapez le nom.",
		GenericError:        "⚠️ Une erreur est survenue pendant le traitement. Réessayez.",
		StorageError:        "⚠️ Vos réglages sont indisponibles pour le moment. Réessayez dans un instant.",
		LanguageSaved:       "✅ Langue réglée sur le Français. Envoyez maintenant une photo ou un nom de produit.",
		UnsupportedLanguage: "❌ Cette langue n'est pas prise en charge.",
		UnknownCommand:      "Commande inconnue. Utilisez /help pour l'aide.",
		EmptyPhoto:          "❌ Aucune photo trouvée dans votre message. Envoyez une photo ou tapez le nom du produit.",
	},
}

// Text returns the string for key in lang, falling back to English.
func Text(lang string, key Key) string {
	if msgs, ok := catalogue[lang]; ok {
		if text, ok := msgs[key]; ok {
			return text
		}
	}
	if text, ok := catalogue[English][key]; ok {
		return text
	}
	return string(key)
}

// Textf formats a templated string such as ProductFound.
func Textf(lang string, key Key, args ...interface{}) string {
	return fmt.Sprintf(Text(lang, key), args...)
}
