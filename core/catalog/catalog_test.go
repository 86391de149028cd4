package catalog

import (
	"reflect"
	"testing"

	"github.com/m3rciful/bookbot/core/config"
)

func testCatalog() *Catalog {
	return FromConfig([]config.ItemConfig{
		{ID: 1, Name: "Livro de Python", File: "books/python.pdf", Price: 12},
		{ID: 2, Name: "Livro de JavaScript", File: "books/javascript.pdf", Price: 12},
		{ID: 3, Name: "Livro de Banco de Dados", File: "books/banco.pdf", Price: 15},
	})
}

func TestMatchCaseInsensitiveSubstring(t *testing.T) {
	cat := testCatalog()

	matched := cat.Match("quero o LIVRO DE PYTHON por favor")
	if len(matched) != 1 || matched[0].ID != 1 {
		t.Fatalf("expected python match, got %+v", matched)
	}

	if got := cat.Match("nada a ver"); len(got) != 0 {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestMatchPreservesCatalogOrder(t *testing.T) {
	cat := testCatalog()

	matched := cat.Match("livro de javascript e tambem livro de python")
	ids := []int{matched[0].ID, matched[1].ID}
	if !reflect.DeepEqual(ids, []int{1, 2}) {
		t.Fatalf("expected catalog order [1 2], got %v", ids)
	}
}

func TestByIDAndByName(t *testing.T) {
	cat := testCatalog()

	item, ok := cat.ByID(3)
	if !ok || item.Name != "Livro de Banco de Dados" {
		t.Fatalf("ByID(3) = %+v, %v", item, ok)
	}
	if _, ok := cat.ByID(99); ok {
		t.Fatal("ByID(99) should not resolve")
	}

	item, ok = cat.ByName("Livro de Python")
	if !ok || item.ID != 1 {
		t.Fatalf("ByName = %+v, %v", item, ok)
	}
}

func TestListing(t *testing.T) {
	cat := testCatalog()

	want := "• Livro de Python\n• Livro de JavaScript\n• Livro de Banco de Dados"
	if got := cat.Listing(); got != want {
		t.Fatalf("Listing() = %q, want %q", got, want)
	}
}
