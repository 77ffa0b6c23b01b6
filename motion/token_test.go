package motion

import (
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestTokensAreUnique(t *testing.T) {
	seen := map[Token]bool{}
	for i := 0; i < 1000; i++ {
		tok := NewToken()
		test.That(t, seen[tok], test.ShouldBeFalse)
		seen[tok] = true
	}
}

func TestZeroTokenNeverCurrent(t *testing.T) {
	var sup Supervisor
	tok := sup.Supersede()
	test.That(t, sup.IsCurrent(Token{}), test.ShouldBeFalse)
	test.That(t, sup.IsCurrent(tok), test.ShouldBeTrue)
}

func TestSupersedeInvalidates(t *testing.T) {
	var sup Supervisor
	t1 := sup.Supersede()
	test.That(t, sup.IsCurrent(t1), test.ShouldBeTrue)

	t2 := sup.Supersede()
	test.That(t, sup.IsCurrent(t1), test.ShouldBeFalse)
	test.That(t, sup.IsCurrent(t2), test.ShouldBeTrue)
	test.That(t, t1, test.ShouldNotEqual, t2)
}

func TestAdoptSharesToken(t *testing.T) {
	var left, right Supervisor
	tok := NewToken()
	left.Adopt(tok)
	right.Adopt(tok)
	test.That(t, left.IsCurrent(tok), test.ShouldBeTrue)
	test.That(t, right.IsCurrent(tok), test.ShouldBeTrue)

	left.Supersede()
	test.That(t, left.IsCurrent(tok), test.ShouldBeFalse)
	test.That(t, right.IsCurrent(tok), test.ShouldBeTrue)
}

// No matter how many writers race, exactly one token is current afterwards.
func TestConcurrentSupersede(t *testing.T) {
	var sup Supervisor
	var wg sync.WaitGroup
	tokens := make([]Token, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = sup.Supersede()
		}(i)
	}
	wg.Wait()

	current := 0
	for _, tok := range tokens {
		if sup.IsCurrent(tok) {
			current++
		}
	}
	test.That(t, current, test.ShouldEqual, 1)
}
