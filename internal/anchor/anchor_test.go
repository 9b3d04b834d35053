package anchor

import "testing"

func TestExtractFindsActAndMoney(t *testing.T) {
	text := `O governo publicou o Decreto 11.555/2025 autorizando um repasse de R$ 4.500.000.000,00 aos estados.`
	anchors := Extract(text)

	var haveAct, haveMoney bool
	for _, a := range anchors {
		switch a.Kind {
		case KindACT:
			haveAct = true
			if a.Normalized != "decreto 11.555/2025" {
				t.Fatalf("unexpected ACT normalization: %q", a.Normalized)
			}
		case KindMoney:
			haveMoney = true
			if a.Normalized != "4500000000.00" {
				t.Fatalf("unexpected MONEY normalization: %q", a.Normalized)
			}
		}
	}
	if !haveAct || !haveMoney {
		t.Fatalf("expected ACT and MONEY anchors, got %+v", anchors)
	}
}

func TestExtractFindsCNJProcessNumber(t *testing.T) {
	text := `O processo 0001234-56.2025.1.00.0000 foi distribuído nesta semana.`
	anchors := Extract(text)

	var found bool
	for _, a := range anchors {
		if a.Kind == KindCNJ {
			found = true
			if a.Normalized != "00012345620251000000" {
				t.Fatalf("unexpected CNJ normalization: %q", a.Normalized)
			}
			if !StrongKinds[a.Kind] {
				t.Fatalf("CNJ must be a strong anchor kind")
			}
		}
	}
	if !found {
		t.Fatalf("expected a CNJ anchor, got %+v", anchors)
	}
}

func TestExtractFindsBillIdentifier(t *testing.T) {
	anchors := Extract("O PL 1234/2025 tramita na Câmara dos Deputados.")

	var found bool
	for _, a := range anchors {
		if a.Kind == KindPL {
			found = true
			if a.Normalized != "PL 1234/2025" {
				t.Fatalf("unexpected PL normalization: %q", a.Normalized)
			}
		}
	}
	if !found {
		t.Fatalf("expected a PL anchor, got %+v", anchors)
	}
}

func TestExtractFindsGovAndPDFLinks(t *testing.T) {
	anchors := Extract("O decreto está disponível em https://www.in.gov.br/leituras/decreto-11555.pdf para consulta.")

	var haveGov, havePDF, haveGazette bool
	for _, a := range anchors {
		switch a.Kind {
		case KindGovLink:
			haveGov = true
		case KindPDFLink:
			havePDF = true
		case KindGazetteLink:
			haveGazette = true
		}
	}
	if !haveGov || !havePDF || !haveGazette {
		t.Fatalf("expected GOV_LINK, PDF_LINK, and GAZETTE_LINK anchors, got %+v", anchors)
	}
}

func TestExtractSkipsBareDigitsInsideMaskedCNPJ(t *testing.T) {
	anchors := Extract("A empresa 12.345.678/0001-95 confirmou o repasse.")

	var cnpjCount int
	for _, a := range anchors {
		if a.Kind == KindCNPJ {
			cnpjCount++
		}
	}
	if cnpjCount != 1 {
		t.Fatalf("expected exactly one CNPJ anchor (masked), got %d: %+v", cnpjCount, anchors)
	}
}

func TestExtractEntityMentionsSkipsSingleWordEntities(t *testing.T) {
	mentions := ExtractEntityMentions("Yesterday Paris announced new measures for tourism.")
	for _, m := range mentions {
		if m.Value == "Yesterday" {
			t.Fatalf("single capitalized word should not become an entity mention")
		}
	}
}

func TestComputeEvidenceScoreIsMonotoneInStrongAnchorCount(t *testing.T) {
	base := ComputeEvidenceScore(EvidenceScoreInput{StrongAnchorCount: 1})
	more := ComputeEvidenceScore(EvidenceScoreInput{StrongAnchorCount: 2})
	if more < base {
		t.Fatalf("adding a strong anchor decreased the evidence score: %f -> %f", base, more)
	}
}
