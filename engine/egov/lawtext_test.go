package egov

import (
	"reflect"
	"testing"
)

const sampleLawXML = `<Law Era="Showa" Year="22" Num="49" LawType="Act">
  <LawNum>昭和二十二年法律第四十九号</LawNum>
  <LawBody>
    <LawTitle>労働基準法</LawTitle>
    <MainProvision>
      <Chapter Num="1">
        <ChapterTitle>第一章　総則</ChapterTitle>
        <Article Num="1">
          <ArticleTitle>第一条</ArticleTitle>
          <Paragraph Num="1">
            <ParagraphNum>１</ParagraphNum>
            <ParagraphSentence>
              <Sentence>労働条件は、労働者が人たるに値する生活を営むための必要を充たすべきものでなければならない。</Sentence>
            </ParagraphSentence>
          </Paragraph>
          <Paragraph Num="2">
            <ParagraphNum>２</ParagraphNum>
            <ParagraphSentence>
              <Sentence>この法律で定める労働条件の基準は最低のもの（地域別最低賃金（最低賃金法に定めるものをいう。）を含む。）である。</Sentence>
            </ParagraphSentence>
          </Paragraph>
        </Article>
        <Article Num="2">
          <ArticleTitle>第二条</ArticleTitle>
          <Paragraph Num="1">
            <ParagraphSentence>
              <Sentence>労働者及び使用者は、「労働協約」を遵守しなければならない。</Sentence>
            </ParagraphSentence>
          </Paragraph>
        </Article>
      </Chapter>
    </MainProvision>
    <SupplProvision>
      <SupplProvisionLabel>附　則</SupplProvisionLabel>
      <Article>
        <Paragraph>
          <ParagraphSentence>
            <Sentence>この法律は、昭和二十二年九月一日から、これを施行する。</Sentence>
          </ParagraphSentence>
        </Paragraph>
      </Article>
    </SupplProvision>
  </LawBody>
</Law>`

func TestExtractFragments(t *testing.T) {
	frags, err := ExtractFragments(sampleLawXML)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"労働条件は、労働者が人たるに値する生活を営むための必要を充たすべきものでなければならない。",
		"この法律で定める労働条件の基準は最低のものである。",
		"労働者及び使用者は、労働協約を遵守しなければならない。",
	}
	if !reflect.DeepEqual(frags, want) {
		t.Fatalf("got %#v\nwant %#v", frags, want)
	}
}

func TestExtractFragmentsSkipsSupplProvision(t *testing.T) {
	frags, err := ExtractFragments(sampleLawXML)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range frags {
		if f == "この法律は、昭和二十二年九月一日から、これを施行する。" {
			t.Fatal("supplementary provision text leaked into fragments")
		}
	}
}

func TestExtractFragmentsMalformed(t *testing.T) {
	if _, err := ExtractFragments("<Law><LawBody>"); err == nil {
		t.Fatal("expected error for truncated xml")
	}
}

func TestCleanFragment(t *testing.T) {
	tests := []struct {
		in   string
		want string
		keep bool
	}{
		{"労働条件の基準を定める。", "労働条件の基準を定める。", true},
		{"第一条", "", false},
		{"（削除）", "", false},
		{"  使用者は、予告をしなければならない。  ", "使用者は、予告をしなければならない。", true},
		{"賃金（通貨以外のものを含む。）を支払う。", "賃金を支払う。", true},
		{"「解雇」の制限に従う。", "解雇の制限に従う。", true},
		{"", "", false},
	}
	for _, tt := range tests {
		got, keep := cleanFragment(tt.in)
		if keep != tt.keep || got != tt.want {
			t.Errorf("cleanFragment(%q) = (%q, %v), want (%q, %v)", tt.in, got, keep, tt.want, tt.keep)
		}
	}
}

func TestStripParensNested(t *testing.T) {
	in := "基準（地域別最低賃金（最低賃金法に定めるものをいう。）を含む。）であること。"
	want := "基準であること。"
	if got := stripParens(in); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStripParensUnbalanced(t *testing.T) {
	// An orphan close stays; an orphan open stays.
	if got := stripParens("ａ）ｂ"); got != "ａ）ｂ" {
		t.Fatalf("orphan close: got %q", got)
	}
	if got := stripParens("ａ（ｂ"); got != "ａ（ｂ" {
		t.Fatalf("orphan open: got %q", got)
	}
}

func TestCutSpans(t *testing.T) {
	frags := []string{
		"第一条の内容である。",
		"罰則の適用がある。",
		"経過措置を定める。",
		"別表に掲げる。",
		"最後の条文である。",
	}

	out := CutSpans(frags, []Span{{From: "罰則", To: "別表"}})
	want := []string{"第一条の内容である。", "別表に掲げる。", "最後の条文である。"}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %#v, want %#v", out, want)
	}
}

func TestCutSpansMissingFrom(t *testing.T) {
	frags := []string{"ａ。", "ｂ。"}
	out := CutSpans(frags, []Span{{From: "存在しない", To: "ｂ"}})
	if !reflect.DeepEqual(out, frags) {
		t.Fatalf("span with unmatched From should be a no-op, got %#v", out)
	}
}

func TestCutSpansMissingTo(t *testing.T) {
	frags := []string{"ａ。", "罰則である。", "ｃ。"}
	out := CutSpans(frags, []Span{{From: "罰則"}})
	want := []string{"ａ。"}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("open-ended span should cut to the end, got %#v", out)
	}
}

func TestCutSpansMultiple(t *testing.T) {
	frags := []string{"ａ。", "ｂ。", "ｃ。", "ｄ。", "ｅ。"}
	out := CutSpans(frags, []Span{
		{From: "ｂ", To: "ｃ"},
		{From: "ｄ", To: "ｅ"},
	})
	want := []string{"ａ。", "ｃ。", "ｅ。"}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %#v, want %#v", out, want)
	}
}
