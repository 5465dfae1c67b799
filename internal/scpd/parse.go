package scpd

import (
	"fmt"
	"strings"

	"github.com/wyatt727/upnp-cli/internal/upnpxml"
)

// Parse normalizes an SCPD document. A document without an action list
// yields an empty action set, not an error; only an unparseable root is
// fatal. Per-element oddities are collected into ParseErrors.
func Parse(body []byte) (*Document, error) {
	root, err := upnpxml.Parse(body)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Actions:        make(map[string]*Action),
		StateVariables: make(map[string]*StateVariable),
	}

	parseStateTable(root, doc)
	parseActionList(root, doc)
	return doc, nil
}

// parseStateTable fills StateVariables from <serviceStateTable>.
func parseStateTable(root *upnpxml.Elem, doc *Document) {
	table := root.First("serviceStateTable")
	if table == nil {
		table = root.FindDeep("serviceStateTable")
	}
	if table == nil {
		return
	}
	for _, el := range table.All("stateVariable") {
		name := el.TextOf("name")
		if name == "" {
			doc.ParseErrors = append(doc.ParseErrors, "state variable without a name")
			continue
		}
		sv := &StateVariable{
			Name:         name,
			DataType:     el.TextOf("dataType"),
			DefaultValue: el.TextOf("defaultValue"),
			SendEvents:   sendEvents(el),
		}
		if sv.DataType == "" {
			sv.DataType = "string"
		}
		if list := el.First("allowedValueList"); list != nil {
			for _, v := range list.All("allowedValue") {
				sv.AllowedValues = append(sv.AllowedValues, strings.TrimSpace(v.Text))
			}
		}
		if r := el.First("allowedValueRange"); r != nil {
			sv.Range = &Range{
				Min:  r.TextOf("minimum"),
				Max:  r.TextOf("maximum"),
				Step: r.TextOf("step"),
			}
		}
		doc.StateVariables[name] = sv
	}
}

// sendEvents reads the sendEvents attribute, falling back to the child
// element some vendors use instead.
func sendEvents(el *upnpxml.Elem) bool {
	for _, a := range el.Attrs {
		if strings.EqualFold(a.Name.Local, "sendEvents") {
			return strings.EqualFold(strings.TrimSpace(a.Value), "yes")
		}
	}
	return strings.EqualFold(el.TextOf("sendEventsAttribute"), "yes")
}

// parseActionList fills Actions from <actionList> in declaration order.
func parseActionList(root *upnpxml.Elem, doc *Document) {
	list := root.First("actionList")
	if list == nil {
		list = root.FindDeep("actionList")
	}
	if list == nil {
		return
	}
	for i, el := range list.All("action") {
		name := el.TextOf("name")
		if name == "" {
			doc.ParseErrors = append(doc.ParseErrors, fmt.Sprintf("action %d has no name", i))
			continue
		}
		action := &Action{Name: name}
		if args := el.First("argumentList"); args != nil {
			for _, a := range args.All("argument") {
				arg := parseArgument(a, doc)
				if strings.EqualFold(arg.Direction, "out") {
					arg.Direction = "out"
					action.ArgumentsOut = append(action.ArgumentsOut, arg)
				} else {
					arg.Direction = "in"
					action.ArgumentsIn = append(action.ArgumentsIn, arg)
				}
			}
		}
		action.Complexity = ClassifyComplexity(len(action.ArgumentsIn), len(action.ArgumentsOut))
		action.Category = Categorize(name)
		if _, dup := doc.Actions[name]; !dup {
			doc.ActionOrder = append(doc.ActionOrder, name)
		}
		doc.Actions[name] = action
	}
}

// parseArgument reads one argument and resolves its type through the
// related state variable. An unresolvable reference is noted and the
// argument keeps its declared type, defaulting to string.
func parseArgument(el *upnpxml.Elem, doc *Document) Argument {
	arg := Argument{
		Name:                 el.TextOf("name"),
		Direction:            strings.ToLower(el.TextOf("direction")),
		DataType:             el.TextOf("dataType"),
		RelatedStateVariable: el.TextOf("relatedStateVariable"),
	}
	if arg.RelatedStateVariable != "" {
		if sv, ok := doc.StateVariables[arg.RelatedStateVariable]; ok {
			if arg.DataType == "" {
				arg.DataType = sv.DataType
			}
			arg.AllowedValues = sv.AllowedValues
			arg.Range = sv.Range
		} else {
			doc.ParseErrors = append(doc.ParseErrors,
				fmt.Sprintf("argument %s references unknown state variable %s", arg.Name, arg.RelatedStateVariable))
		}
	}
	if arg.DataType == "" {
		arg.DataType = "string"
	}
	return arg
}
