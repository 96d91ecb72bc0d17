package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// DefaultLang is used when a requested language has no locale file.
const DefaultLang = "en"

type Translator struct {
	lang         string
	translations map[string]string
	fallback     map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys. Keys missing from the
// requested language fall back to DefaultLang.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	if langCode == "" {
		langCode = DefaultLang
	}
	base, err := readLocale(fsys, DefaultLang)
	if err != nil {
		return nil, err
	}
	if langCode == DefaultLang {
		return &Translator{lang: langCode, translations: base}, nil
	}
	tr, err := readLocale(fsys, langCode)
	if err != nil {
		return nil, err
	}
	return &Translator{lang: langCode, translations: tr, fallback: base}, nil
}

func readLocale(fsys fs.FS, langCode string) (map[string]string, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return parse(data)
}

func parse(data []byte) (map[string]string, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return translations, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	tr, err := parse(data)
	if err != nil {
		return nil, err
	}
	return &Translator{lang: DefaultLang, translations: tr}, nil
}

// T formats the message for key with args. Unknown keys return the key itself.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		if format, ok = t.fallback[key]; !ok {
			return key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) Lang() string { return t.lang }
