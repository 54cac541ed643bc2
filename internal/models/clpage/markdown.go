package clpage

import (
	"bytes"
	"html/template"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	stripmd "github.com/writeas/go-strip-markdown"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

const excerptLength = 160

// DefaultContent est affiché quand page.content n'est pas renseigné
const DefaultContent = `# Bienvenue :wave:

Merci de votre visite sur cette petite page personnelle.

- les compteurs en bas de page sont mis à jour une fois par session
- l'accès reste libre pendant l'essai gratuit, puis le mot de passe partagé le rouvre pour la journée
`

type externalLinkTransformer struct{}

// NewMarkdown crée le convertisseur Markdown de la page
func NewMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			emoji.Emoji,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithASTTransformers(
				util.Prioritized(&externalLinkTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
}

func ConvertMarkdownToHTML(md goldmark.Markdown, markdown string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		log.Error().Err(err).Msg("Erreur conversion Markdown")
		return template.HTML("<pre>" + template.HTMLEscapeString(markdown) + "</pre>")
	}
	return template.HTML(buf.String())
}

// LoadContent lit le fichier markdown de la page, ou le contenu par défaut si path est vide
func LoadContent(path string) (string, error) {
	if path == "" {
		return DefaultContent, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Excerpt retire le markdown et coupe au dernier mot avant la longueur max
func Excerpt(markdown string) string {
	plain := strings.Join(strings.Fields(stripmd.Strip(markdown)), " ")
	if utf8.RuneCountInString(plain) <= excerptLength {
		return plain
	}

	runes := []rune(plain)[:excerptLength]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

func (t *externalLinkTransformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if link, ok := n.(*ast.Link); ok {
			link.SetAttributeString("target", []byte("_blank"))
			link.SetAttributeString("rel", []byte("noopener noreferrer"))
		}

		return ast.WalkContinue, nil
	})
}
