package parser

import (
	"strings"
	"unicode"
)

// Spanish articles and prepositions excluded from short-title initials.
var shortTitleStopwords = map[string]bool{
	"DE": true, "DEL": true, "LA": true, "LAS": true, "LOS": true,
	"EL": true, "EN": true, "Y": true, "A": true, "PARA": true,
	"POR": true, "CON": true,
}

// ShortTitle derives an abbreviation from a document title by taking the
// initials of its significant words: "LEY FEDERAL DEL TRABAJO" -> "LFT".
func ShortTitle(title string) string {
	if title == "" {
		return ""
	}

	var sb strings.Builder
	for _, word := range strings.Fields(strings.ToUpper(title)) {
		clean := keepLetters(word)
		if clean == "" || shortTitleStopwords[clean] {
			continue
		}
		sb.WriteString(string([]rune(clean)[0]))
	}
	return sb.String()
}

// keepLetters strips everything but uppercase letters, keeping the Spanish
// accented vowels and Ñ/Ü.
func keepLetters(word string) string {
	var sb strings.Builder
	for _, r := range word {
		if unicode.IsLetter(r) && unicode.IsUpper(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
