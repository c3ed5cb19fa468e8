package research

import (
	"context"
	"errors"
	"testing"
)

// =============================================================================
// LEARNING EXTRACTION TESTS
// =============================================================================

func TestAccumulateParsesProvenance(t *testing.T) {
	t.Parallel()

	s := testSession("solid state batteries", 2, 2)
	srcA := usableSource("https://example.com/a", 1, 0, "battery article a")
	srcB := usableSource("https://example.com/b", 1, 0, "battery article b")
	s.commitSources([]*Source{srcA, srcB})

	reply := `- (chemistry) Sulfide electrolytes reach conductivities above 10 mS/cm at room temperature [S1]
- (manufacturing) Dry-room humidity control dominates production cost for sulfide cells [S1][S2]
- (market) Production cars are expected before 2030 [S2][S2][S7]`
	llm := (&scriptedLLM{}).on("Extract the new factual findings", reply)

	appended, err := NewAccumulator(llm).Accumulate(context.Background(), s, 1, []*Source{srcA, srcB})
	if err != nil {
		t.Fatalf("Accumulate failed: %v", err)
	}
	if len(appended) != 3 {
		t.Fatalf("appended %d learnings, want 3", len(appended))
	}

	first := appended[0]
	if first.Category != "chemistry" {
		t.Errorf("category = %q, want chemistry", first.Category)
	}
	if first.Content != "Sulfide electrolytes reach conductivities above 10 mS/cm at room temperature" {
		t.Errorf("content kept markers or prefix: %q", first.Content)
	}
	if len(first.SourceIDs) != 1 || first.SourceIDs[0] != srcA.ID {
		t.Errorf("first learning sources = %v, want [%s]", first.SourceIDs, srcA.ID)
	}

	second := appended[1]
	if len(second.SourceIDs) != 2 {
		t.Errorf("second learning sources = %v, want both", second.SourceIDs)
	}

	// Repeated and out-of-range markers collapse to the valid set.
	third := appended[2]
	if len(third.SourceIDs) != 1 || third.SourceIDs[0] != srcB.ID {
		t.Errorf("third learning sources = %v, want just %s", third.SourceIDs, srcB.ID)
	}
	if third.Iteration != 1 {
		t.Errorf("iteration = %d, want 1", third.Iteration)
	}
}

func TestAccumulateDropsUnsupportedFindings(t *testing.T) {
	t.Parallel()

	s := testSession("topic", 2, 2)
	src := usableSource("https://example.com/a", 1, 0, "content")
	s.commitSources([]*Source{src})

	reply := `- This finding cites nothing and must be dropped entirely
- (ok) This finding is properly supported by the source [S1]
- too short [S1]`
	llm := (&scriptedLLM{}).on("Extract the new factual findings", reply)

	appended, err := NewAccumulator(llm).Accumulate(context.Background(), s, 1, []*Source{src})
	if err != nil {
		t.Fatalf("Accumulate failed: %v", err)
	}
	if len(appended) != 1 {
		t.Fatalf("appended %d learnings, want 1", len(appended))
	}
	if appended[0].Content != "This finding is properly supported by the source" {
		t.Errorf("wrong survivor: %q", appended[0].Content)
	}
	if len(s.Learnings()) != 1 {
		t.Errorf("ledger holds %d learnings, want 1", len(s.Learnings()))
	}
}

func TestAccumulateOnlyUsableSources(t *testing.T) {
	t.Parallel()

	s := testSession("topic", 2, 2)
	good := usableSource("https://example.com/good", 1, 0, "good content")
	excluded := usableSource("https://example.com/excluded", 1, 0, "excluded content")
	excluded.Excluded = true
	failed := usableSource("https://example.com/failed", 1, 0, "")
	failed.Status = StatusFailed
	s.commitSources([]*Source{good, excluded, failed})

	// [S1] must resolve to the only accepted source, [S2] to nothing.
	reply := "- The accepted source supports this finding [S1][S2]"
	llm := (&scriptedLLM{}).on("Extract the new factual findings", reply)

	appended, err := NewAccumulator(llm).Accumulate(context.Background(), s, 1, []*Source{good, excluded, failed})
	if err != nil {
		t.Fatalf("Accumulate failed: %v", err)
	}
	if len(appended) != 1 {
		t.Fatalf("appended %d learnings, want 1", len(appended))
	}
	if len(appended[0].SourceIDs) != 1 || appended[0].SourceIDs[0] != good.ID {
		t.Errorf("sources = %v, want only the usable source %s", appended[0].SourceIDs, good.ID)
	}
}

func TestAccumulateNoUsableSources(t *testing.T) {
	t.Parallel()

	s := testSession("topic", 2, 2)
	failed := usableSource("https://example.com/failed", 1, 0, "")
	failed.Status = StatusFailed

	llm := &scriptedLLM{}
	appended, err := NewAccumulator(llm).Accumulate(context.Background(), s, 1, []*Source{failed})
	if err != nil {
		t.Fatalf("Accumulate failed: %v", err)
	}
	if appended != nil {
		t.Errorf("appended = %v, want nil", appended)
	}
	if len(llm.calls) != 0 {
		t.Error("no LLM call expected with nothing to accumulate")
	}
}

func TestAccumulateErrorSurfaces(t *testing.T) {
	t.Parallel()

	s := testSession("topic", 2, 2)
	src := usableSource("https://example.com/a", 1, 0, "content")
	s.commitSources([]*Source{src})

	llm := (&scriptedLLM{}).onErr("Extract the new factual findings", errors.New("model overloaded"))
	_, err := NewAccumulator(llm).Accumulate(context.Background(), s, 1, []*Source{src})

	var aerr *AccumulationError
	if !errors.As(err, &aerr) {
		t.Fatalf("got %T (%v), want *AccumulationError", err, err)
	}
	if aerr.Iteration != 1 {
		t.Errorf("AccumulationError.Iteration = %d, want 1", aerr.Iteration)
	}
	if len(s.Learnings()) != 0 {
		t.Error("failed accumulation must not touch the ledger")
	}
}

// =============================================================================
// DUPLICATE FOLDING TESTS
// =============================================================================

func TestAccumulateMergesExactDuplicates(t *testing.T) {
	t.Parallel()

	s := testSession("topic", 3, 2)
	srcA := usableSource("https://example.com/a", 1, 0, "content a")
	srcB := usableSource("https://example.com/b", 2, 1, "content b")
	s.commitSources([]*Source{srcA, srcB})
	acc := NewAccumulator(llmWithFinding("Graphene conducts electricity better than copper at room temperature", "S1"))

	appended, err := acc.Accumulate(context.Background(), s, 1, []*Source{srcA})
	if err != nil || len(appended) != 1 {
		t.Fatalf("first round: appended=%v err=%v", appended, err)
	}

	// Same finding, different casing and punctuation, second source.
	acc2 := NewAccumulator(llmWithFinding("graphene conducts electricity BETTER than copper, at room temperature!", "S1"))
	appended2, err := acc2.Accumulate(context.Background(), s, 2, []*Source{srcB})
	if err != nil {
		t.Fatalf("second round failed: %v", err)
	}
	if len(appended2) != 0 {
		t.Fatalf("restatement appended %d learnings, want 0 (merged)", len(appended2))
	}

	ledger := s.Learnings()
	if len(ledger) != 1 {
		t.Fatalf("ledger holds %d learnings, want 1", len(ledger))
	}
	if len(ledger[0].SourceIDs) != 2 {
		t.Errorf("merged provenance = %v, want both sources", ledger[0].SourceIDs)
	}
}

func TestAccumulateMergesNearDuplicates(t *testing.T) {
	t.Parallel()

	s := testSession("topic", 3, 2)
	srcA := usableSource("https://example.com/a", 1, 0, "content a")
	srcB := usableSource("https://example.com/b", 2, 1, "content b")
	s.commitSources([]*Source{srcA, srcB})

	first := "The transformer architecture was introduced by Vaswani and colleagues in the 2017 paper Attention Is All You Need"
	nearCopy := "The transformer architecture was introduced by Vaswani and colleagues in their 2017 paper Attention Is All You Need"

	if _, err := NewAccumulator(llmWithFinding(first, "S1")).Accumulate(context.Background(), s, 1, []*Source{srcA}); err != nil {
		t.Fatalf("first round failed: %v", err)
	}
	appended, err := NewAccumulator(llmWithFinding(nearCopy, "S1")).Accumulate(context.Background(), s, 2, []*Source{srcB})
	if err != nil {
		t.Fatalf("second round failed: %v", err)
	}
	if len(appended) != 0 {
		t.Fatalf("near duplicate appended %d learnings, want 0", len(appended))
	}
	if n := len(s.Learnings()); n != 1 {
		t.Fatalf("ledger holds %d learnings, want 1", n)
	}
}

func TestAccumulateDistinctFindingsAppend(t *testing.T) {
	t.Parallel()

	s := testSession("topic", 3, 2)
	src := usableSource("https://example.com/a", 1, 0, "content")
	s.commitSources([]*Source{src})

	reply := `- Solid oxide fuel cells operate above 600 degrees Celsius [S1]
- Proton exchange membranes run near 80 degrees Celsius [S1]`
	llm := (&scriptedLLM{}).on("Extract the new factual findings", reply)

	appended, err := NewAccumulator(llm).Accumulate(context.Background(), s, 1, []*Source{src})
	if err != nil {
		t.Fatalf("Accumulate failed: %v", err)
	}
	if len(appended) != 2 {
		t.Errorf("appended %d learnings, want 2 distinct", len(appended))
	}
}

// =============================================================================
// TEXT NORMALIZATION TESTS
// =============================================================================

func TestNormalizeLearningText(t *testing.T) {
	t.Parallel()

	a := normalizeLearningText("Graphene conducts ELECTRICITY, better than copper!")
	b := normalizeLearningText("graphene conducts electricity better than copper")
	if a != b {
		t.Errorf("normalized forms differ: %q vs %q", a, b)
	}
	if learningHash(a) != learningHash(b) {
		t.Error("hashes of equivalent texts differ")
	}
}

func TestTrigramJaccard(t *testing.T) {
	t.Parallel()

	same := trigramJaccard(trigramSet("hello world"), trigramSet("hello world"))
	if same != 1.0 {
		t.Errorf("identical strings = %v, want 1.0", same)
	}
	disjoint := trigramJaccard(trigramSet("aaaa"), trigramSet("zzzz"))
	if disjoint != 0.0 {
		t.Errorf("disjoint strings = %v, want 0.0", disjoint)
	}
	if got := trigramJaccard(trigramSet(""), trigramSet("abc")); got != 0 {
		t.Errorf("empty set = %v, want 0", got)
	}

	near := trigramJaccard(
		trigramSet(normalizeLearningText("the quick brown fox jumps over the lazy dog today")),
		trigramSet(normalizeLearningText("the quick brown fox jumps over the lazy dog tonight")),
	)
	if near <= nearDuplicateThreshold {
		t.Errorf("near duplicates = %v, want above %v", near, nearDuplicateThreshold)
	}
}

// llmWithFinding scripts a single-finding accumulator reply.
func llmWithFinding(content, marker string) *scriptedLLM {
	return (&scriptedLLM{}).on("Extract the new factual findings", "- "+content+" ["+marker+"]")
}
