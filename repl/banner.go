package repl

// bannerEnglish is the default soft-reboot announcement.
var bannerEnglish = []byte("soft reboot\r\n")

// banners maps the board's locale tag to its soft-reboot banner. The tag
// must match the locale of the firmware running on the board, not the
// host's locale.
var banners = map[string][]byte{
	"ID":             []byte("memulai ulang software(soft reboot)\r\n"),
	"de":             []byte("weicher reboot\r\n"),
	"en":             bannerEnglish,
	"es":             []byte("reinicio suave\r\n"),
	"fil":            []byte("malambot na reboot\r\n"),
	"fr":             []byte("redémarrage logiciel\r\n"),
	"ja":             []byte("ソフトリブート\r\n"),
	"nl":             []byte("zachte herstart\r\n"),
	"pl":             []byte("programowy reset\r\n"),
	"pt":             []byte("reinicialização soft\r\n"),
	"ru":             []byte("Мягкая перезагрузка\r\n"),
	"sv":             []byte("mjuk omstart\r\n"),
	"zh_Latn_pinyin": []byte("ruǎn chóngqǐ\r\n"),
}

// Banner returns the soft-reboot banner for the given locale tag, falling
// back to the English banner when the tag is unknown or empty.
func Banner(locale string) []byte {
	if b, ok := banners[locale]; ok {
		return b
	}
	return bannerEnglish
}

// Locales returns the locale tags with a known banner.
func Locales() []string {
	tags := make([]string, 0, len(banners))
	for tag := range banners {
		tags = append(tags, tag)
	}
	return tags
}
