package audited

import (
	"fmt"

	"edutrail/errors"
	"edutrail/snapshot"
	"edutrail/validation"
)

const (
	TypeBookSection  = "BookSection"
	TypeQuizQuestion = "QuizQuestion"
)

func stringLen(name string, max int) func(any) error {
	return func(v any) error {
		s, _ := v.(string)
		return validation.ValidateStringLength(s, name, 0, max)
	}
}

func intRange(name string, min, max int64) func(any) error {
	return func(v any) error {
		n, _ := v.(int64)
		return validation.ValidateIntRange(n, name, min, max)
	}
}

func positive(name string) func(any) error {
	return func(v any) error {
		n, _ := v.(int64)
		return validation.ValidatePositive(n, name)
	}
}

// BookSection 课程页面
func BookSection() *TypeHandle {
	return &TypeHandle{
		Name:       TypeBookSection,
		Table:      "book_sections",
		TitleField: "heading",
		Fields: []FieldSpec{
			{Name: "heading", Kind: KindString, Required: true, Validate: stringLen("heading", 100)},
			{Name: "content", Kind: KindText, Required: true, Rich: true, Validate: stringLen("content", 30000)},
			{Name: "position", Kind: KindInt, Validate: intRange("position", 0, 9999)},
			{Name: "is_free", Kind: KindBool},
			{Name: "book_id", Kind: KindInt, Required: true, Validate: positive("book_id")},
			{Name: "quiz_section_id", Kind: KindInt, Nullable: true, Validate: positive("quiz_section_id")},
		},
	}
}

// QuizQuestion 测验题
func QuizQuestion() *TypeHandle {
	return &TypeHandle{
		Name:       TypeQuizQuestion,
		Table:      "quiz_questions",
		TitleField: "question",
		Fields: []FieldSpec{
			{Name: "question", Kind: KindText, Required: true, Rich: true, Validate: stringLen("question", 2000)},
			{Name: "choice1", Kind: KindString, Required: true, Validate: stringLen("choice1", 100)},
			{Name: "choice2", Kind: KindString, Required: true, Validate: stringLen("choice2", 100)},
			{Name: "choice3", Kind: KindString, Required: true, Validate: stringLen("choice3", 100)},
			{Name: "choice4", Kind: KindString, Required: true, Validate: stringLen("choice4", 100)},
			{Name: "correct_choice", Kind: KindInt, Required: true, Validate: intRange("correct_choice", 1, 4)},
			{Name: "explanation", Kind: KindText, Required: true, Rich: true, Validate: stringLen("explanation", 2000)},
			{Name: "position", Kind: KindInt, Validate: intRange("position", 1, 9999)},
			{Name: "quiz_id", Kind: KindInt, Required: true, Validate: positive("quiz_id")},
			{Name: "quiz_section_id", Kind: KindInt, Required: true, Validate: positive("quiz_section_id")},
		},
		Check: distinctChoices,
	}
}

// distinctChoices 四个选项不能重复
func distinctChoices(fields snapshot.Fields) error {
	seen := make(map[string]string, 4)
	for i := 1; i <= 4; i++ {
		name := fmt.Sprintf("choice%d", i)
		s, _ := fields[name].(string)
		if prev, dup := seen[s]; dup {
			return errors.NewError(errors.ErrCodeValidation,
				fmt.Sprintf("%s与%s内容重复", name, prev))
		}
		seen[s] = name
	}
	return nil
}

// DefaultRegistry 内置的两种审计类型
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BookSection(), QuizQuestion())
	if err != nil {
		panic(err)
	}
	return r
}
