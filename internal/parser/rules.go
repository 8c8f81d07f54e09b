// internal/parser/rules.go
package parser

import (
	"regexp"
	"strings"
)

// Matcher 尝试从文本中提取一个值，返回值与是否命中
type Matcher func(text string) (string, bool)

// Rule 有序规则表中的一条规则
type Rule struct {
	Name  string
	Match Matcher
}

// RuleSet 按声明顺序求值的规则表，第一条命中的规则生效
type RuleSet struct {
	Name  string
	Rules []Rule
}

// Apply 依次尝试每条规则，返回命中的值和规则名
func (rs RuleSet) Apply(text string) (value string, rule string, ok bool) {
	for _, r := range rs.Rules {
		if v, hit := r.Match(text); hit {
			return v, r.Name, true
		}
	}
	return "", "", false
}

// Value 只返回命中值，未命中时返回空串
func (rs RuleSet) Value(text string) string {
	v, _, _ := rs.Apply(text)
	return v
}

// Names 返回规则名列表（按求值顺序）
func (rs RuleSet) Names() []string {
	names := make([]string, len(rs.Rules))
	for i, r := range rs.Rules {
		names[i] = r.Name
	}
	return names
}

// PatternRule 用正则的第一个匹配构造规则，extract 把子匹配转成结果
func PatternRule(name string, re *regexp.Regexp, extract func(groups []string) (string, bool)) Rule {
	return Rule{
		Name: name,
		Match: func(text string) (string, bool) {
			groups := re.FindStringSubmatch(text)
			if groups == nil {
				return "", false
			}
			return extract(groups)
		},
	}
}

// LabelRule 匹配 "<label>\s*<行内剩余内容>"，大小写不敏感
func LabelRule(label string) Rule {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `\s*([^\n]+)`)
	return PatternRule(label, re, func(groups []string) (string, bool) {
		return strings.TrimSpace(groups[1]), true
	})
}

// LabelRuleSet 由同义标签列表构造规则表
func LabelRuleSet(name string, labels ...string) RuleSet {
	rules := make([]Rule, len(labels))
	for i, label := range labels {
		rules[i] = LabelRule(label)
	}
	return RuleSet{Name: name, Rules: rules}
}
