package pdftext

import (
	"strings"
	"unicode"
)

// Confidence scores how much the extracted text looks like running Spanish
// legal prose rather than operator garbage from a scanned or mangled PDF.
// Four weighted signals, with a small boost when Spanish orthography shows
// up, clamped to [0,1].
func Confidence(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	if avg := averageWordLength(words); avg >= 3 && avg <= 12 {
		score += 0.25
	}
	if specialCharRatio(text) < 0.02 {
		score += 0.25
	}
	if strings.ContainsAny(text, ".!?") {
		score += 0.2
	}
	if shortWordRatio(words) < 0.3 {
		score += 0.3
	}

	if strings.ContainsAny(text, "áéíóúñü¿¡ÁÉÍÓÚÑÜ") {
		score *= 1.1
	}

	if score > 1 {
		return 1
	}
	return score
}

func averageWordLength(words []string) float64 {
	total := 0
	for _, w := range words {
		total += len([]rune(w))
	}
	return float64(total) / float64(len(words))
}

// shortWordRatio is the share of one- and two-rune tokens. Garbled streams
// fragment into short runs; prose stays under 30%.
func shortWordRatio(words []string) float64 {
	short := 0
	for _, w := range words {
		if len([]rune(w)) <= 2 {
			short++
		}
	}
	return float64(short) / float64(len(words))
}

// specialCharRatio is the density of runes that are neither letters, digits,
// whitespace, nor ordinary punctuation.
func specialCharRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	special := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		if strings.ContainsRune(`.,;:()"'-¿?¡!`, r) {
			continue
		}
		special++
	}
	return float64(special) / float64(len(runes))
}
