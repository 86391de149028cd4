package engine

import (
	"fmt"
	"strings"

	"github.com/m3rciful/bookbot/core/catalog"
)

// Customer-facing texts. The proof pipeline shares the verification verdicts.
const (
	msgGreeting    = "📚 Olá! Aqui estão nossos livros disponíveis:"
	msgPrompt      = "Responda com o nome ou parte do nome dos livros que deseja."
	msgNotFound    = "❌ Livro não encontrado. Tente com o nome correto."
	msgGiftEarned  = "🎁 Como você escolheu 2 ou mais livros, ganhou 1 de brinde!"
	msgGiftPrompt  = "Escolha mais um livro da lista como presente:"
	msgGiftInvalid = "❌ Livro inválido ou já escolhido. Tente outro da lista."
	msgProofNext   = "Depois, envie o comprovante aqui."
	msgVerifying   = "🕵️‍♂️ Verificando seu comprovante..."
	msgNeedImage   = "❗ Por favor, envie o comprovante como *imagem* para validarmos."

	// MsgAccepted is sent when a payment proof passes verification.
	MsgAccepted = "✅ Comprovante validado com sucesso! Seus livros serão enviados agora."
	// MsgRejected is sent when extracted proof text fails the acceptance predicate.
	MsgRejected = "⚠️ Comprovante inválido ou não legível. Verifique e envie novamente."
	// MsgProofError is sent when text extraction itself fails.
	MsgProofError = "❌ Ocorreu um erro ao processar seu comprovante. Tente novamente mais tarde."
	// MsgDeliverFail is sent when a file delivery fails mid-order.
	MsgDeliverFail = "⚠️ Tivemos um problema ao enviar seus livros. Envie o comprovante novamente para tentarmos outra vez."
)

func priceListing(items []catalog.Item) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "• %s — R$%d", item.Name, item.Price)
	}
	return b.String()
}

func msgSelection(names []string) string {
	var b strings.Builder
	b.WriteString("📘 Você escolheu:")
	for _, n := range names {
		b.WriteString("\n• ")
		b.WriteString(n)
	}
	return b.String()
}

func msgTotal(total int) string {
	return fmt.Sprintf("💰 O total é *R$%d,00*", total)
}

func msgGiftChosen(name string) string {
	return fmt.Sprintf("🎉 Seu brinde será: *%s*.", name)
}

func msgGiftTotal(total int) string {
	return fmt.Sprintf("💰 Agora envie R$%d,00 para:", total)
}

func msgPix(key string) string {
	return fmt.Sprintf("Envie o PIX para:\n*%s*", key)
}

func msgPixKey(key string) string {
	return fmt.Sprintf("*%s*", key)
}
