package classifier

import (
	"fmt"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/nn"

	"gonum.org/v1/gonum/mat"
)

// Classifier 带类别标签的分类器
type Classifier struct {
	model   *Model
	classes []models.EventClass
}

// NewClassifier 绑定类别标签，标签数须与模型输出一致
func NewClassifier(model *Model, classes []models.EventClass) (*Classifier, error) {
	if len(classes) != model.config.NumClasses {
		return nil, fmt.Errorf("%w: %d class labels for %d model outputs",
			nn.ErrShapeMismatch, len(classes), model.config.NumClasses)
	}
	return &Classifier{
		model:   model,
		classes: append([]models.EventClass(nil), classes...),
	}, nil
}

// Model 返回底层模型
func (c *Classifier) Model() *Model { return c.model }

// Classes 返回类别标签
func (c *Classifier) Classes() []models.EventClass {
	return append([]models.EventClass(nil), c.classes...)
}

// Classify 对单个 L × D 样本做 softmax 并取最大概率类别
func (c *Classifier) Classify(sample *mat.Dense) (models.Classification, error) {
	results, err := c.ClassifyBatch([]*mat.Dense{sample})
	if err != nil {
		return models.Classification{}, err
	}
	return results[0], nil
}

// ClassifyBatch 批量分类
func (c *Classifier) ClassifyBatch(batch []*mat.Dense) ([]models.Classification, error) {
	logits, err := c.model.Forward(batch)
	if err != nil {
		return nil, err
	}
	results := make([]models.Classification, len(batch))
	for i := range batch {
		row := mat.Row(nil, i, logits)
		probs := nn.Softmax(row)
		idx := nn.Argmax(probs)
		results[i] = models.Classification{
			Class:      c.classes[idx],
			Index:      idx,
			Confidence: probs[idx],
			Logits:     row,
		}
	}
	return results, nil
}
