package market

import (
	"reflect"
	"testing"
)

func TestExtractTickersCashtag(t *testing.T) {
	got := ExtractTickers("what do you think about $aapl and $MSFT today?")
	want := []string{"AAPL", "MSFT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExtractTickersBareCapsFiltered(t *testing.T) {
	got := ExtractTickers("The CEO of NVDA said the FED and CPI matter for TSLA")
	want := []string{"NVDA", "TSLA"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExtractTickersDeduplicatesCaseInsensitively(t *testing.T) {
	got := ExtractTickers("$amd versus AMD, then $AMD again")
	want := []string{"AMD"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExtractTickersCashtagBypassesStopwords(t *testing.T) {
	// AI in prose is an abbreviation; $AI is an explicit symbol.
	got := ExtractTickers("is AI hype priced into $AI?")
	want := []string{"AI"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExtractTickersIgnoresLongAndMixedWords(t *testing.T) {
	got := ExtractTickers("Apple earnings beat EXPECTATIONS across iPhones")
	if len(got) != 0 {
		t.Fatalf("expected none, got %v", got)
	}
}
