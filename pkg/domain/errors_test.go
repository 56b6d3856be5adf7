package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestTransitionErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("ledger refused")
	err := error(Fail(ErrPaymentFailed).WithKitty(3).WithAccount("bob").WithCause(cause))
	if !errors.Is(err, ErrPaymentFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected kind and cause to match, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected kind match")
	}
	te := Fail(ErrPaymentFailed).WithKitty(3).WithAccount("bob").WithCause(cause)
	te.Op = "buy"
	want := "buy: payment failed (kitty 3) (account bob): ledger refused"
	if te.Error() != want {
		t.Fatalf("got %q want %q", te.Error(), want)
	}
	if msg := Fail(ErrDead).Error(); !strings.HasPrefix(msg, "kitty is dead") {
		t.Fatalf("unexpected bare message %q", msg)
	}
}
